package interest

import (
	"errors"
	"fmt"
	"strings"
)

// Scheme names an update prioritization strategy.
type Scheme string

const (
	SchemeTime                     Scheme = "Time"
	SchemeDistance                 Scheme = "Distance"
	SchemeSimpleAngularDistance    Scheme = "SimpleAngularDistance"
	SchemeFrontBack                Scheme = "FrontBack"
	SchemeBestAvatarResponsiveness Scheme = "BestAvatarResponsiveness"
	SchemeOOB                      Scheme = "OOB"
)

// DefaultScheme is used when the configured scheme is not recognized.
const DefaultScheme = SchemeBestAvatarResponsiveness

var ErrUnknownScheme = errors.New("unknown prioritization scheme")

var schemes = []Scheme{
	SchemeTime,
	SchemeDistance,
	SchemeSimpleAngularDistance,
	SchemeFrontBack,
	SchemeBestAvatarResponsiveness,
	SchemeOOB,
}

// Schemes returns every supported scheme.
func Schemes() []Scheme {
	out := make([]Scheme, len(schemes))
	copy(out, schemes)
	return out
}

// ParseScheme matches name case-insensitively against the supported schemes.
func ParseScheme(name string) (Scheme, error) {
	trimmed := strings.TrimSpace(name)
	for _, s := range schemes {
		if strings.EqualFold(trimmed, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("parsing scheme %q: %w", name, ErrUnknownScheme)
}
