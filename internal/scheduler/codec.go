package scheduler

import (
	"encoding/json"
	"fmt"
	"time"
)

// triggerArgsJSON is the persisted shape of scheduler_jobs.trigger_args and
// agent_schedules.trigger_args.
type triggerArgsJSON struct {
	Cron            *CronFields `json:"cron,omitempty"`
	IntervalSeconds int         `json:"interval_seconds,omitempty"`
	At              *time.Time  `json:"at,omitempty"`
}

func encodeTrigger(t Trigger) string {
	var args triggerArgsJSON
	switch t.Type {
	case TriggerCron:
		cf := t.Cron
		args.Cron = &cf
	case TriggerInterval:
		args.IntervalSeconds = t.IntervalSeconds
	case TriggerDate:
		at := t.At
		args.At = &at
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func decodeTrigger(triggerType TriggerType, raw string) (Trigger, error) {
	var args triggerArgsJSON
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Trigger{}, fmt.Errorf("scheduler: decode trigger_args: %w", err)
	}

	switch triggerType {
	case TriggerCron:
		if args.Cron == nil {
			return Trigger{}, fmt.Errorf("scheduler: cron trigger missing cron fields")
		}
		return Trigger{Type: TriggerCron, Cron: *args.Cron}, nil
	case TriggerInterval:
		return Trigger{Type: TriggerInterval, IntervalSeconds: args.IntervalSeconds}, nil
	case TriggerDate:
		if args.At == nil {
			return Trigger{}, fmt.Errorf("scheduler: date trigger missing fire time")
		}
		return Trigger{Type: TriggerDate, At: *args.At}, nil
	default:
		return Trigger{}, fmt.Errorf("scheduler: unknown trigger type %q", triggerType)
	}
}
