package models

// VisitStatus records how far a visit has progressed.
//
// The status is a workflow cursor and a record of what has happened on the
// visit, collapsed onto one field. Transitions form a partial order, not a
// strict chain: a follow-up created before any photo moves CHECKED_IN
// straight to DETAILS_CAPTURED, and a payment moves any open visit to
// PAYMENT_RECORDED. Side-effect promotions only ever move forward.
type VisitStatus string

const (
	VisitStatusPlanned         VisitStatus = "PLANNED"
	VisitStatusCheckedIn       VisitStatus = "CHECKED_IN"
	VisitStatusPhotosUploaded  VisitStatus = "PHOTOS_UPLOADED"
	VisitStatusDetailsCaptured VisitStatus = "DETAILS_CAPTURED"
	VisitStatusPaymentRecorded VisitStatus = "PAYMENT_RECORDED"
	VisitStatusCheckedOut      VisitStatus = "CHECKED_OUT"
	VisitStatusCompleted       VisitStatus = "COMPLETED"
	VisitStatusCancelled       VisitStatus = "CANCELLED"
)

// AllVisitStatuses in forward order, CANCELLED last.
var AllVisitStatuses = []VisitStatus{
	VisitStatusPlanned,
	VisitStatusCheckedIn,
	VisitStatusPhotosUploaded,
	VisitStatusDetailsCaptured,
	VisitStatusPaymentRecorded,
	VisitStatusCheckedOut,
	VisitStatusCompleted,
	VisitStatusCancelled,
}

var (
	// PhotoUploadStatuses may receive photos.
	PhotoUploadStatuses = []VisitStatus{
		VisitStatusCheckedIn,
		VisitStatusPhotosUploaded,
		VisitStatusDetailsCaptured,
	}

	// PhotoPromotableStatuses move to PHOTOS_UPLOADED on the first photo.
	PhotoPromotableStatuses = []VisitStatus{VisitStatusCheckedIn}

	// FollowUpPromotableStatuses move to DETAILS_CAPTURED when a follow-up is created.
	FollowUpPromotableStatuses = []VisitStatus{
		VisitStatusCheckedIn,
		VisitStatusPhotosUploaded,
	}

	// PaymentPromotableStatuses move to PAYMENT_RECORDED when a payment is created.
	PaymentPromotableStatuses = []VisitStatus{
		VisitStatusPlanned,
		VisitStatusCheckedIn,
		VisitStatusPhotosUploaded,
		VisitStatusDetailsCaptured,
	}

	// CheckOutStatuses may be checked out.
	CheckOutStatuses = []VisitStatus{
		VisitStatusCheckedIn,
		VisitStatusPhotosUploaded,
		VisitStatusDetailsCaptured,
		VisitStatusPaymentRecorded,
	}

	// StartableStatuses may be started by check-in while the visit has never
	// been checked in. An advance payment moves a planned visit to
	// PAYMENT_RECORDED before anyone arrives.
	StartableStatuses = []VisitStatus{
		VisitStatusPlanned,
		VisitStatusPaymentRecorded,
	}

	// CancellableStatuses may be cancelled.
	CancellableStatuses = []VisitStatus{
		VisitStatusPlanned,
		VisitStatusCheckedIn,
	}
)

// IsValid checks if a status is recognized.
func (s VisitStatus) IsValid() bool {
	return s.In(AllVisitStatuses...)
}

// In reports whether s is one of statuses.
func (s VisitStatus) In(statuses ...VisitStatus) bool {
	for _, v := range statuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the visit is over. EndTime is set exactly for
// terminal statuses.
func (s VisitStatus) IsTerminal() bool {
	return s.In(VisitStatusCheckedOut, VisitStatusCompleted, VisitStatusCancelled)
}

// AfterPhoto returns the status after a photo is attached.
func (s VisitStatus) AfterPhoto() VisitStatus {
	if s.In(PhotoPromotableStatuses...) {
		return VisitStatusPhotosUploaded
	}
	return s
}

// AfterFollowUp returns the status after a follow-up is created.
func (s VisitStatus) AfterFollowUp() VisitStatus {
	if s.In(FollowUpPromotableStatuses...) {
		return VisitStatusDetailsCaptured
	}
	return s
}

// AfterPayment returns the status after a payment is recorded. Visits that
// are already PAYMENT_RECORDED or past it keep their status.
func (s VisitStatus) AfterPayment() VisitStatus {
	if s.In(PaymentPromotableStatuses...) {
		return VisitStatusPaymentRecorded
	}
	return s
}

// CanCheckOut reports whether check-out is allowed from s.
func (s VisitStatus) CanCheckOut() bool {
	return s.In(CheckOutStatuses...)
}

// CanUploadPhoto reports whether photos are accepted in s.
func (s VisitStatus) CanUploadPhoto() bool {
	return s.In(PhotoUploadStatuses...)
}
