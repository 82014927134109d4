// Package referral issues the short codes accounts share to invite others.
package referral

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloudbot/services/account"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("referral",
	fx.Provide(
		NewGenerator,
		func(r account.Repository) Store { return r },
		func(g *Generator) account.CodeGenerator { return g },
	),
)

const (
	candidateCount  = 5
	maxCodeLen      = 10
	maxFallbackLen  = 14
	defaultPrefix   = "USR"
	fallbackPrefix  = "REF"
	prefixRunes     = 3
	randomHexLength = 6
)

// Store reports which of the given codes are already assigned.
type Store interface {
	ExistingRefCodes(ctx context.Context, codes []string) ([]string, error)
}

type Generator struct {
	store Store
	now   func() time.Time
}

type Params struct {
	fx.In
	Store Store
}

func NewGenerator(p Params) *Generator {
	return &Generator{store: p.Store, now: time.Now}
}

// Generate returns a code built from the display name that no account holds
// at the time of the check. When every candidate is taken, or the lookup
// fails, it falls back to a timestamp code; the unique index on the stored
// code rejects whatever collision remains.
func (g *Generator) Generate(ctx context.Context, displayName string) string {
	prefix := Prefix(displayName)

	candidates := make([]string, 0, candidateCount)
	for i := 0; i < candidateCount; i++ {
		candidates = append(candidates, truncate(prefix+randomHex(randomHexLength), maxCodeLen))
	}

	taken, err := g.store.ExistingRefCodes(ctx, candidates)
	if err != nil {
		zap.L().Warn("referral code lookup failed, using fallback", zap.Error(err))
		return g.fallback()
	}

	used := make(map[string]struct{}, len(taken))
	for _, code := range taken {
		used[code] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := used[c]; !ok {
			return c
		}
	}

	return g.fallback()
}

func (g *Generator) fallback() string {
	ts := strings.ToUpper(strconv.FormatInt(g.now().UnixMilli(), 36))
	return truncate(fallbackPrefix+ts+randomHex(4), maxFallbackLen)
}

// Prefix takes the first three characters of name, upper-cased, with
// anything outside A-Z replaced by X. An empty name yields "USR".
func Prefix(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultPrefix
	}

	var b strings.Builder
	n := 0
	for _, r := range name {
		if n == prefixRunes {
			break
		}
		r = unicode.ToUpper(r)
		if r < 'A' || r > 'Z' {
			r = 'X'
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return strings.ToUpper(hex.EncodeToString(buf))[:n]
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
