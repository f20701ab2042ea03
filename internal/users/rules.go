package users

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/realbeatz/backend/internal/config"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

const dateLayout = "2006-01-02"

// Rules holds the field validation limits applied to registrations and updates.
type Rules struct {
	UsernameMin     int
	UsernameMax     int
	PasswordMin     int
	NameMax         int
	BioMax          int
	MinimumAgeYears int
}

// RulesFromConfig builds Rules from the validation section of the process config.
func RulesFromConfig(cfg config.ValidationConfig) Rules {
	return Rules{
		UsernameMin:     cfg.UsernameMinLength,
		UsernameMax:     cfg.UsernameMaxLength,
		PasswordMin:     cfg.PasswordMinLength,
		NameMax:         cfg.NameMaxLength,
		BioMax:          cfg.BioMaxLength,
		MinimumAgeYears: cfg.MinimumAgeYears,
	}
}

func (r Rules) validUsername(v string) bool {
	n := utf8.RuneCountInString(v)
	if n < r.UsernameMin || n > r.UsernameMax {
		return false
	}
	return !strings.ContainsFunc(v, func(c rune) bool {
		return !(c == '_' || c == '.' || c == '-' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
	})
}

func (r Rules) validPassword(v string) bool {
	return utf8.RuneCountInString(v) >= r.PasswordMin && len(v) <= maxPasswordBytes
}

func (r Rules) validName(v string) bool {
	return utf8.RuneCountInString(v) <= r.NameMax
}

func (r Rules) validBio(v string) bool {
	return utf8.RuneCountInString(v) <= r.BioMax
}

// parseDateOfBirth accepts YYYY-MM-DD dates in the past for users at least
// MinimumAgeYears old on now.
func (r Rules) parseDateOfBirth(v string, now time.Time) (time.Time, bool) {
	dob, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	if !dob.Before(now) {
		return time.Time{}, false
	}
	if r.MinimumAgeYears > 0 && dob.AddDate(r.MinimumAgeYears, 0, 0).After(now) {
		return time.Time{}, false
	}
	return dob, true
}
