package domain

import (
	"errors"
	"testing"
)

func TestTierFor(t *testing.T) {
	table := DefaultTierTable()
	tests := []struct {
		name  string
		total int64
		want  Tier
	}{
		{name: "negative total floors to observer", total: -40, want: TierObserver},
		{name: "zero", total: 0, want: TierObserver},
		{name: "just below builder", total: 49, want: TierObserver},
		{name: "builder threshold", total: 50, want: TierBuilder},
		{name: "operator", total: 299, want: TierOperator},
		{name: "elite threshold", total: 300, want: TierElite},
		{name: "far above top", total: 100000, want: TierElite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.TierFor(tt.total); got != tt.want {
				t.Fatalf("TierFor(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestTierTableValidate(t *testing.T) {
	if err := DefaultTierTable().Validate(); err != nil {
		t.Fatalf("стандартная таблица должна быть корректной: %v", err)
	}
	bad := TierTable{
		{Tier: TierObserver, MinPoints: 0},
		{Tier: TierBuilder, MinPoints: 0},
	}
	err := bad.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "tiers" {
		t.Fatalf("ожидали ValidationError по полю tiers, получили %v", err)
	}
	if err := (TierTable{}).Validate(); err == nil {
		t.Fatal("пустая таблица должна отклоняться")
	}
}

func TestTierProgress(t *testing.T) {
	table := DefaultTierTable()

	p := table.Progress(120)
	if p.Current.Tier != TierBuilder {
		t.Fatalf("ожидали BUILDER, получили %s", p.Current.Tier)
	}
	if p.Next == nil || p.Next.Tier != TierOperator {
		t.Fatalf("ожидали следующую ступень OPERATOR, получили %+v", p.Next)
	}
	if p.PointsNeeded != 30 {
		t.Fatalf("ожидали 30 очков до следующей ступени, получили %d", p.PointsNeeded)
	}

	top := table.Progress(500)
	if top.Next != nil || top.PointsNeeded != 0 {
		t.Fatalf("у высшей ступени нет следующей: %+v", top)
	}

	negative := table.Progress(-10)
	if negative.Current.Tier != TierObserver || negative.Next == nil || negative.Next.Tier != TierBuilder || negative.PointsNeeded != 60 {
		t.Fatalf("неожиданный прогресс для отрицательного баланса: %+v", negative)
	}

	floor := table.Progress(0)
	if floor.Next == nil || floor.Next.Tier != TierBuilder || floor.PointsNeeded != 50 {
		t.Fatalf("неожиданный прогресс для нулевого баланса: %+v", floor)
	}

	raised := TierTable{{Tier: TierObserver, MinPoints: 10}, {Tier: TierBuilder, MinPoints: 20}}
	below := raised.Progress(-5)
	if below.Current.Tier != TierObserver || below.Next == nil || below.Next.Tier != TierBuilder || below.PointsNeeded != 25 {
		t.Fatalf("сумма ниже нижнего порога остаётся на нижней ступени: %+v", below)
	}
}
