package model

import "time"

// DeliveryJob asks a worker to deliver every pending message of a campaign.
// It is the JSON body published to the delivery queue.
type DeliveryJob struct {
	JobID       string    `json:"job_id"`
	CampaignID  int64     `json:"campaign_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}
