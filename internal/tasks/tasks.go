package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeLicenseDeliver = "license:email:deliver"
	TypeLapsedScan     = "license:lapsed:scan"
	TypeDeliverySweep  = "license:delivery:sweep"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type DeliverLicensePayload struct {
	LicenseID uuid.UUID `json:"license_id"`
}

// NewLicenseDeliverTask builds the email delivery task for one license. The task id
// is derived from the license id so a re-enqueue of the same license is rejected.
func NewLicenseDeliverTask(licenseID uuid.UUID, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(DeliverLicensePayload{LicenseID: licenseID})
	if err != nil {
		return nil, err
	}

	allOpts := append([]asynq.Option{asynq.TaskID("deliver:" + licenseID.String())}, opts...)
	return asynq.NewTask(TypeLicenseDeliver, payloadBytes, allOpts...), nil
}

type LapsedScanPayload struct{}

func NewLapsedScanTask(opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(LapsedScanPayload{})
	if err != nil {
		return nil, err
	}

	allOpts := append(opts, asynq.Unique(1*time.Hour), asynq.Queue(QueueLow))
	return asynq.NewTask(TypeLapsedScan, payloadBytes, allOpts...), nil
}

type DeliverySweepPayload struct{}

func NewDeliverySweepTask(opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(DeliverySweepPayload{})
	if err != nil {
		return nil, err
	}

	allOpts := append(opts, asynq.Unique(10*time.Minute), asynq.Queue(QueueDefault))
	return asynq.NewTask(TypeDeliverySweep, payloadBytes, allOpts...), nil
}
