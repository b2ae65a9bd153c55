package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ConfigType is the declared type of a stored configuration value.
type ConfigType string

const (
	ConfigBoolean ConfigType = "boolean"
	ConfigNumber  ConfigType = "number"
	ConfigString  ConfigType = "string"
	ConfigJSON    ConfigType = "json"
)

// SystemConfig is a row of the system_configs table. Value holds the raw
// text; use Decode to get a typed ConfigValue.
type SystemConfig struct {
	Key         string     `db:"key" json:"key"`
	Value       string     `db:"value" json:"-"`
	Type        ConfigType `db:"type" json:"type"`
	Category    string     `db:"category" json:"category"`
	Description string     `db:"description" json:"description"`
	UpdatedBy   string     `db:"updated_by" json:"updatedBy"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Decode parses the stored text according to the declared type.
func (c *SystemConfig) Decode() (ConfigValue, error) {
	return DecodeConfigValue(c.Type, c.Value)
}

// ConfigValue is a decoded configuration value. Exactly one of the payload
// fields is meaningful, selected by Type.
type ConfigValue struct {
	Type   ConfigType
	Bool   bool
	Number float64
	Str    string
	JSON   json.RawMessage
}

// ConfigFormatError reports a stored value that does not match its type.
type ConfigFormatError struct {
	Type ConfigType
	Raw  string
	Err  error
}

func (e *ConfigFormatError) Error() string {
	return fmt.Sprintf("config value %q is not a valid %s: %v", e.Raw, e.Type, e.Err)
}

func (e *ConfigFormatError) Unwrap() error { return e.Err }

// DecodeConfigValue parses raw as a value of type t.
func DecodeConfigValue(t ConfigType, raw string) (ConfigValue, error) {
	v := ConfigValue{Type: t}
	switch t {
	case ConfigBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return ConfigValue{}, &ConfigFormatError{Type: t, Raw: raw, Err: err}
		}
		v.Bool = b
	case ConfigNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ConfigValue{}, &ConfigFormatError{Type: t, Raw: raw, Err: err}
		}
		v.Number = n
	case ConfigString:
		v.Str = raw
	case ConfigJSON:
		if !json.Valid([]byte(raw)) {
			return ConfigValue{}, &ConfigFormatError{Type: t, Raw: raw, Err: fmt.Errorf("malformed json")}
		}
		v.JSON = json.RawMessage(raw)
	default:
		return ConfigValue{}, &ConfigFormatError{Type: t, Raw: raw, Err: fmt.Errorf("unknown type")}
	}
	return v, nil
}

// BoolValue builds a boolean ConfigValue.
func BoolValue(b bool) ConfigValue { return ConfigValue{Type: ConfigBoolean, Bool: b} }

// NumberValue builds a numeric ConfigValue.
func NumberValue(n float64) ConfigValue { return ConfigValue{Type: ConfigNumber, Number: n} }

// StringValue builds a string ConfigValue.
func StringValue(s string) ConfigValue { return ConfigValue{Type: ConfigString, Str: s} }

// JSONValue marshals v into a json ConfigValue.
func JSONValue(v interface{}) (ConfigValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ConfigValue{}, err
	}
	return ConfigValue{Type: ConfigJSON, JSON: raw}, nil
}

// Encode renders the value in its stored text form.
func (v ConfigValue) Encode() string {
	switch v.Type {
	case ConfigBoolean:
		return strconv.FormatBool(v.Bool)
	case ConfigNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ConfigJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.JSON); err != nil {
			return string(v.JSON)
		}
		return buf.String()
	default:
		return v.Str
	}
}

// Interface returns the payload as a plain Go value for JSON responses.
func (v ConfigValue) Interface() interface{} {
	switch v.Type {
	case ConfigBoolean:
		return v.Bool
	case ConfigNumber:
		return v.Number
	case ConfigJSON:
		return v.JSON
	default:
		return v.Str
	}
}

// ParseConfigInput converts a JSON request payload into a value of type t.
func ParseConfigInput(t ConfigType, in json.RawMessage) (ConfigValue, error) {
	switch t {
	case ConfigBoolean:
		var b bool
		if err := json.Unmarshal(in, &b); err != nil {
			return ConfigValue{}, err
		}
		return BoolValue(b), nil
	case ConfigNumber:
		var n float64
		if err := json.Unmarshal(in, &n); err != nil {
			return ConfigValue{}, err
		}
		return NumberValue(n), nil
	case ConfigString:
		var s string
		if err := json.Unmarshal(in, &s); err != nil {
			return ConfigValue{}, err
		}
		return StringValue(s), nil
	case ConfigJSON:
		if !json.Valid(in) {
			return ConfigValue{}, fmt.Errorf("malformed json")
		}
		return ConfigValue{Type: ConfigJSON, JSON: in}, nil
	}
	return ConfigValue{}, fmt.Errorf("unknown config type %q", t)
}
