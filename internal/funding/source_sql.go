package funding

import (
	"database/sql/driver"
	"fmt"
)

func (s Source) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid funding source %d", int(s))
	}
	return s.String(), nil
}

func (s *Source) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into funding.Source", src)
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
