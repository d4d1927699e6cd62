// Package credits spends the per-user edit balance kept on profiles.credits.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/krishkalaria12/snap-edit/models"
	"gorm.io/gorm"
)

type Gate interface {
	// UseCredit spends one credit. It reports false when the balance is zero or below.
	UseCredit(ctx context.Context, userID string) (bool, error)
	Balance(ctx context.Context, userID string) (int, error)
}

type gormGate struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) Gate {
	return &gormGate{db: db}
}

func (g *gormGate) UseCredit(ctx context.Context, userID string) (bool, error) {
	res := g.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND credits > 0", userID).
		Update("credits", gorm.Expr("credits - ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("using credit: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (g *gormGate) Balance(ctx context.Context, userID string) (int, error) {
	var p models.Profile
	err := g.db.WithContext(ctx).Select("id", "credits").Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading credits: %w", err)
	}
	return p.Credits, nil
}

// Memory is a Gate with balances held in process memory.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int
}

func NewMemory(balances map[string]int) *Memory {
	m := &Memory{balances: make(map[string]int, len(balances))}
	for k, v := range balances {
		m.balances[k] = v
	}
	return m
}

func (m *Memory) UseCredit(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] <= 0 {
		return false, nil
	}
	m.balances[userID]--
	return true, nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Add(userID string, amount int) {
	m.mu.Lock()
	m.balances[userID] += amount
	m.mu.Unlock()
}
