package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	envKeyThreshold        = envPrefix + "SPAM_THRESHOLD"
	envKeyMatchWeight      = envPrefix + "SPAM_MATCH_WEIGHT"
	envKeyScriptWeight     = envPrefix + "SPAM_SCRIPT_WEIGHT"
	envKeyStructuralWeight = envPrefix + "SPAM_STRUCTURAL_WEIGHT"
)

var ErrInvalidThreshold = errors.New("threshold must be a positive number")

// DefaultScoring mirrors the env defaults for callers that build settings by hand.
func DefaultScoring() Scoring {
	return Scoring{
		Threshold:        3,
		MatchWeight:      1,
		ScriptWeight:     2,
		StructuralWeight: 5,
	}
}

// ScoringSettings is the runtime holder of weights and threshold. Updates are
// written back to the dotenv file so they survive a restart.
type ScoringSettings struct {
	mu      sync.RWMutex
	current Scoring
	envFile string
}

func NewScoringSettings(initial Scoring, envFile string) *ScoringSettings {
	return &ScoringSettings{current: initial, envFile: envFile}
}

func (s *ScoringSettings) Current() Scoring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *ScoringSettings) SetThreshold(value float64) error {
	if !validWeight(value) || value == 0 {
		return ErrInvalidThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.envFile != "" {
		env, err := readEnvFile(s.envFile)
		if err != nil {
			return err
		}
		env[envKeyThreshold] = strconv.FormatFloat(value, 'f', -1, 64)
		if err := godotenv.Write(env, s.envFile); err != nil {
			return fmt.Errorf("failed to persist threshold: %w", err)
		}
	}
	s.current.Threshold = value
	log.WithField("threshold", value).Info("spam threshold updated")
	return nil
}

// Reload re-reads weights and threshold from the dotenv file. Keys that are
// absent or unparsable keep their current values.
func (s *ScoringSettings) Reload() error {
	if s.envFile == "" {
		return nil
	}
	env, err := readEnvFile(s.envFile)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	for key, target := range map[string]*float64{
		envKeyThreshold:        &next.Threshold,
		envKeyMatchWeight:      &next.MatchWeight,
		envKeyScriptWeight:     &next.ScriptWeight,
		envKeyStructuralWeight: &next.StructuralWeight,
	} {
		raw, ok := env[key]
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !validWeight(value) {
			log.WithFields(log.Fields{"key": key, "value": raw}).Warn("ignoring invalid scoring value")
			continue
		}
		*target = value
	}
	if next.Threshold == 0 {
		next.Threshold = s.current.Threshold
	}
	s.current = next
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}

func validWeight(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
