// Package counter implements per-user visit counters rendered as plain text
// or SVG, with increment-on-read semantics.
package counter

import (
	"errors"
	"math/big"
	"strings"

	"gorm.io/gorm"

	"persona/models"
)

var one = big.NewInt(1)

// Create validates and persists a counter for username, enforcing the
// per-user ceiling. init is the submitted starting value, reduced modulo the
// counter maximum like every stored count.
func Create(db *gorm.DB, username, name, init, origin string) (*models.Counter, error) {
	if name == "" || len(name) > models.NameLen || init == "" {
		return nil, models.ErrInvalid
	}

	if len(origin) > models.CounterOriginsLen {
		return nil, models.ErrInvalid
	}

	value, ok := new(big.Int).SetString(strings.TrimSpace(init), 10)
	if !ok {
		return nil, models.ErrInvalid
	}
	value.Mod(value, models.HugeIntMax)

	var count int64
	if err := db.Model(&models.Counter{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count >= models.CountersLimit {
		return nil, models.ErrQuota
	}

	id, err := models.GenID(db, &models.Counter{})
	if err != nil {
		return nil, err
	}

	counter := &models.Counter{
		ID:       id,
		Name:     name,
		Count:    value.String(),
		Origin:   origin,
		Username: username,
	}

	if err := db.Create(counter).Error; err != nil {
		return nil, err
	}

	return counter, nil
}

// Get fetches a counter by owner and id.
func Get(db *gorm.DB, username, id string) (*models.Counter, error) {
	var counter models.Counter
	err := db.First(&counter, "username = ? AND id = ?", username, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

// Increment bumps the counter by one and returns the new value. At the
// ceiling the stored value stays put and the call still succeeds. The update
// is guarded on the previously read value so concurrent hits retry instead
// of losing increments.
func Increment(db *gorm.DB, username, id string) (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		counter, err := Get(db, username, id)
		if err != nil {
			return "", err
		}

		value, ok := new(big.Int).SetString(counter.Count, 10)
		if !ok {
			return "", models.ErrInvalid
		}

		if value.Cmp(models.HugeIntMax) >= 0 {
			return counter.Count, nil
		}

		next := new(big.Int).Add(value, one).String()

		res := db.Model(&models.Counter{}).
			Where("username = ? AND id = ? AND count = ?", username, id, counter.Count).
			Update("count", next)
		if res.Error != nil {
			return "", res.Error
		}

		if res.RowsAffected == 1 {
			return next, nil
		}
		// raced with a concurrent hit, re-read and retry
	}

	return "", errors.New("counter increment contention")
}

// SetCount overwrites the stored value, reduced modulo the maximum.
func SetCount(counter *models.Counter, count string) error {
	value, ok := new(big.Int).SetString(strings.TrimSpace(count), 10)
	if !ok {
		return models.ErrInvalid
	}

	value.Mod(value, models.HugeIntMax)
	counter.Count = value.String()
	return nil
}
