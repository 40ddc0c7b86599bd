package notify

import "context"

// Service bundles the optional sinks. A zero-value Service is usable and
// silently drops everything, so callers never nil-check.
type Service struct {
	publisher *Publisher
	alerter   *Alerter
}

func NewService(publisher *Publisher, alerter *Alerter) *Service {
	return &Service{publisher: publisher, alerter: alerter}
}

func (s *Service) Event(ctx context.Context, event Event) {
	if s == nil || s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, event)
}

func (s *Service) Alert(format string, args ...any) {
	if s == nil || s.alerter == nil {
		return
	}
	s.alerter.Alert(format, args...)
}

func (s *Service) Close() error {
	if s == nil || s.publisher == nil {
		return nil
	}
	return s.publisher.Close()
}
