package client

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings is the file representation of a pool's configuration.  Zero
// fields keep their defaults.
//
//	timeout: 5s
//	backoff: [1s, 5s, 30s]
//	max_concurrent: 32
//	gc_interval: 2m
//	start_suspended: false
//	rate_limit:
//	  capacity: 10
//	  tokens_per_interval: 1
//	  interval: 100ms
type Settings struct {
	Timeout        time.Duration   `yaml:"timeout"`
	Backoff        []time.Duration `yaml:"backoff"`
	MaxConcurrent  int             `yaml:"max_concurrent"`
	GCInterval     time.Duration   `yaml:"gc_interval"`
	StartSuspended bool            `yaml:"start_suspended"`
	RateLimit      *RateLimit      `yaml:"rate_limit"`
}

// ReadSettings decodes YAML settings from r.  Unknown fields are rejected.
func ReadSettings(r io.Reader) (s Settings, err error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err = dec.Decode(&s); err == io.EOF {
		err = nil // empty file
	}

	if err == nil {
		err = s.validate()
	}

	return s, errors.Wrap(err, "settings")
}

// LoadSettings reads YAML settings from the file at path.
func LoadSettings(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	return ReadSettings(f)
}

// Options that apply the settings.
func (s Settings) Options() []Option {
	var opt []Option

	if s.Timeout > 0 {
		opt = append(opt, WithTimeout(s.Timeout))
	}

	if len(s.Backoff) > 0 {
		opt = append(opt, WithBackoff(s.Backoff...))
	}

	if s.MaxConcurrent > 0 {
		opt = append(opt, WithMaxConcurrent(s.MaxConcurrent))
	}

	if s.GCInterval > 0 {
		opt = append(opt, WithGCInterval(s.GCInterval))
	}

	if s.StartSuspended {
		opt = append(opt, WithSuspended(true))
	}

	if s.RateLimit != nil {
		opt = append(opt, WithRateLimit(s.RateLimit))
	}

	return opt
}

func (s Settings) validate() error {
	if s.Timeout < 0 || s.GCInterval < 0 || s.MaxConcurrent < 0 {
		return errors.New("negative value")
	}

	for _, d := range s.Backoff {
		if d <= 0 {
			return errors.Errorf("invalid backoff step %s", d)
		}
	}

	if r := s.RateLimit; r != nil {
		if r.Capacity <= 0 || r.TokensPerInterval <= 0 || r.Interval <= 0 {
			return errors.New("rate limit requires positive capacity, tokens_per_interval and interval")
		}
	}

	return nil
}
