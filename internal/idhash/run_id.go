package idhash

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"factor-lab/internal/domain"
)

// ErrInvalidRunID is returned when a run_id does not decode to a SHA256 digest.
var ErrInvalidRunID = errors.New("invalid run id")

// ComputeRunID computes a deterministic run_id using SHA256.
// Formula: SHA256(name|coin_num|window|hold_hour|c_rate|factor:weight,...|created_at_ns)
// Returns base58-encoded hash (43-44 characters).
func ComputeRunID(cfg domain.StrategyConfig, createdAt time.Time) string {
	factors := make([]string, len(cfg.Factors))
	for i, f := range cfg.Factors {
		factors[i] = f.Name + ":" + strconv.FormatFloat(f.Weight, 'g', -1, 64)
	}

	data := fmt.Sprintf("%s|%d|%d|%s|%s|%s|%d",
		cfg.Name,
		cfg.CoinNum,
		cfg.Window,
		cfg.HoldHour,
		strconv.FormatFloat(cfg.CRate, 'g', -1, 64),
		strings.Join(factors, ","),
		createdAt.UTC().UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ValidateRunID checks that id decodes to a 32-byte digest.
func ValidateRunID(id string) error {
	decoded, err := base58.Decode(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunID, err)
	}
	if len(decoded) != sha256.Size {
		return fmt.Errorf("%w: decoded length %d", ErrInvalidRunID, len(decoded))
	}
	return nil
}
