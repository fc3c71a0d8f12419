package metrics

import coremetrics "github.com/vinhphannn/eatnow-dispatch/core/metrics"

// MultiSink fans dispatch events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignment forwards the event to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordReassignment forwards the event to all sinks.
func (m *MultiSink) RecordReassignment(ev coremetrics.ReassignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordReassignment(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordConfirmation forwards the event to sinks that support it.
func (m *MultiSink) RecordConfirmation(ev coremetrics.ConfirmationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.ConfirmationRecorder); ok {
			if err := rec.RecordConfirmation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordQueueDepth forwards the depth to sinks that support it.
func (m *MultiSink) RecordQueueDepth(depth int64) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.QueueDepthRecorder); ok {
			if err := rec.RecordQueueDepth(depth); err != nil {
				return err
			}
		}
	}
	return nil
}
