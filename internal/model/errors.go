package model

// ErrorKind classifies a failure for reporting.
type ErrorKind string

const (
	KindValidationRejected ErrorKind = "validation-rejected"
	KindProcessingFailed   ErrorKind = "processing-failed"
	KindTransportFailed    ErrorKind = "transport-failed"
	KindServerRejected     ErrorKind = "server-rejected"
	KindPayloadTooLarge    ErrorKind = "payload-too-large"
	KindCancelled          ErrorKind = "cancelled"
)

// RejectReason is the reason code attached to a validation rejection.
type RejectReason string

const (
	ReasonInvalidType RejectReason = "invalid-type"
	ReasonTooLarge    RejectReason = "too-large"
)

// Rejection reports a file refused before it entered the batch.
type Rejection struct {
	FileName string       `json:"fileName"`
	Reason   RejectReason `json:"reason"`
	Message  string       `json:"message,omitempty"`
}

// ProcessingFailure reports a file dropped because it could not be decoded
// or transcoded.
type ProcessingFailure struct {
	FileName string `json:"fileName"`
	Message  string `json:"message"`
}

// CancelledMessage is the error text of items ended by cancellation.
const CancelledMessage = "cancelled"
