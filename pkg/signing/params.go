package signing

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the gateway wall-clock format (YYYYMMDDHHMMSS).
const TimestampLayout = "20060102150405"

// Params is the flat field set that gets canonicalized and signed. Field
// order carries no meaning; Canonicalize sorts.
type Params map[string]string

// Set stores a string field and returns the receiver for chaining.
func (p Params) Set(key, value string) Params {
	p[key] = value
	return p
}

// SetInt stores an integer field in base 10.
func (p Params) SetInt(key string, value int64) Params {
	p[key] = strconv.FormatInt(value, 10)
	return p
}

// SetDecimal stores a decimal with no trailing exponent.
func (p Params) SetDecimal(key string, value decimal.Decimal) Params {
	p[key] = value.String()
	return p
}

// SetTime stores t in TimestampLayout using t's own location.
func (p Params) SetTime(key string, t time.Time) Params {
	p[key] = t.Format(TimestampLayout)
	return p
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Without returns a copy of p minus the named fields.
func (p Params) Without(keys ...string) Params {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// FromValues flattens a multi-valued query into Params keeping the first
// value of each key.
func FromValues(values map[string][]string) Params {
	out := make(Params, len(values))
	for k, vs := range values {
		if len(vs) == 0 {
			out[k] = ""
			continue
		}
		out[k] = vs[0]
	}
	return out
}
