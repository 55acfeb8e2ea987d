package services

import (
	"sync"
	"time"

	"livecast/internal/core/domain"
)

const (
	// Degradation thresholds for one RTCP receiver report.
	maxFractionLost = 0.1
	maxJitter       = 100 * time.Millisecond
	maxRoundTrip    = 300 * time.Millisecond

	// recoveryReports is how many consecutive clean reports clear a
	// degradation. A single clean report after a loss burst is not a
	// recovered link.
	recoveryReports = 3
)

// LinkQualityService folds RTCP receiver reports into a publish link
// quality. One bad report degrades immediately; recovery is sticky.
type LinkQualityService struct {
	mu      sync.Mutex
	quality domain.LinkQuality
	good    int

	fractionLostLimit float64
	jitterLimit       time.Duration
	roundTripLimit    time.Duration
	recoveryLimit     int
}

func NewLinkQualityService() *LinkQualityService {
	return &LinkQualityService{
		quality:           domain.LinkGood,
		fractionLostLimit: maxFractionLost,
		jitterLimit:       maxJitter,
		roundTripLimit:    maxRoundTrip,
		recoveryLimit:     recoveryReports,
	}
}

// Observe folds one report and returns the quality after it.
func (s *LinkQualityService) Observe(m domain.LinkMetrics) domain.LinkQuality {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.breaches(m) {
		s.good = 0
		s.quality = domain.LinkDegraded
		return s.quality
	}

	if s.quality == domain.LinkDegraded {
		s.good++
		if s.good >= s.recoveryLimit {
			s.quality = domain.LinkGood
			s.good = 0
		}
	}
	return s.quality
}

// Quality returns the current classification without folding a report.
func (s *LinkQualityService) Quality() domain.LinkQuality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

func (s *LinkQualityService) breaches(m domain.LinkMetrics) bool {
	return m.FractionLost > s.fractionLostLimit ||
		m.Jitter > s.jitterLimit ||
		m.RoundTrip > s.roundTripLimit
}
