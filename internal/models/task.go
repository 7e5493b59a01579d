// Package models defines the deferred task types managed by the queue.
package models

import "time"

// TaskType names a kind of deferred work.
type TaskType string

const (
	// TaskTypeImageProcessing classifies an inbound image and reacts to it.
	TaskTypeImageProcessing TaskType = "imageProcessing"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one deferred unit of work. It is created by an inbound handler,
// mutated only by the queue's worker loop, and discarded after completion or
// permanent failure.
type Task struct {
	ID        string            `json:"id"`
	Type      TaskType          `json:"type"`
	Data      map[string]string `json:"data,omitempty"`
	Attempts  int               `json:"attempts"`
	Status    TaskStatus        `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Payload keys used by image processing tasks.
const (
	TaskDataUserID   = "userId"
	TaskDataName     = "nombre"
	TaskDataImageB64 = "imageBase64"
	TaskDataMimeType = "mimeType"
)

// ImageLabel is one of the fixed classification outcomes for inbound images.
type ImageLabel string

const (
	ImagePaymentProof            ImageLabel = "payment-proof"
	ImageExamOrder               ImageLabel = "exam-order"
	ImageAppointmentConfirmation ImageLabel = "appointment-confirmation"
	ImageIdentityDocument        ImageLabel = "identity-document"
	ImageOther                   ImageLabel = "other"
)

// IsValidImageLabel checks whether the classifier returned a known label.
func IsValidImageLabel(l ImageLabel) bool {
	switch l {
	case ImagePaymentProof, ImageExamOrder, ImageAppointmentConfirmation, ImageIdentityDocument, ImageOther:
		return true
	default:
		return false
	}
}

// PaymentInfo holds the fields extracted from a payment-proof image.
// Empty strings mark values the extractor could not recover.
type PaymentInfo struct {
	Amount    string `json:"valor,omitempty"`
	Date      string `json:"fecha,omitempty"`
	Reference string `json:"referencia,omitempty"`
}

// DocumentInfo holds the fields extracted from an identity document image.
type DocumentInfo struct {
	Cedula string `json:"cedula,omitempty"`
	Name   string `json:"nombre,omitempty"`
}

// PatientInfo is the record returned by the external patient lookup.
type PatientInfo struct {
	Cedula      string `json:"cedula"`
	Name        string `json:"nombre,omitempty"`
	Appointment string `json:"cita,omitempty"`
	ExamType    string `json:"tipoExamen,omitempty"`
	Paid        bool   `json:"pagado,omitempty"`
}
