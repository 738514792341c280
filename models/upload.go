package models

import "time"

const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
	UploadFailed    = "failed"
)

type Upload struct {
	ID           string       `gorm:"column:id;type:varchar(36);primaryKey" json:"upload_id"`
	OwnerEmail   string       `gorm:"column:owner_email;index;not null" json:"owner_email"`
	Filename     string       `gorm:"column:filename" json:"filename"`
	Status       string       `gorm:"column:status;not null;default:pending" json:"status"`
	RowCount     int          `gorm:"column:row_count" json:"row_count"`
	ModelVersion string       `gorm:"column:model_version" json:"model_version"`
	CreatedAt    time.Time    `gorm:"column:created_at;index" json:"created_at"`
	Predictions  []Prediction `gorm:"foreignKey:UploadID;constraint:OnDelete:CASCADE" json:"predictions,omitempty"`
}

func (Upload) TableName() string { return "uploads" }
