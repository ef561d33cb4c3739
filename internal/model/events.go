package model

// EventPayload is the kind-specific portion of an Event. The interface is
// sealed to the six variants below.
type EventPayload interface {
	eventPayload()
}

// IdentityRegisteredData is the decoded IdentityRegistered payload.
type IdentityRegisteredData struct {
	Account      string `json:"account"`
	Name         string `json:"name"`
	RegisteredAt uint64 `json:"registered_at"`
}

// ListingRegisteredData is the decoded ListingRegistered payload.
type ListingRegisteredData struct {
	ListingID string `json:"listing_id"`
	Owner     string `json:"owner"`
	Title     string `json:"title"`
}

// BookingCreatedData is the decoded BookingCreated payload.
type BookingCreatedData struct {
	BookingID string `json:"booking_id"`
	ListingID string `json:"listing_id"`
	Tenant    string `json:"tenant"`
}

// BookingConfirmedData is the decoded BookingConfirmed payload. The contract
// emits only the booking id here; listing and tenant are not available.
type BookingConfirmedData struct {
	BookingID string `json:"booking_id"`
}

// BookingCompletedData is the decoded BookingCompleted payload.
type BookingCompletedData struct {
	BookingID string `json:"booking_id"`
}

// ReviewSubmittedData is the decoded ReviewSubmitted payload.
type ReviewSubmittedData struct {
	ListingID string `json:"listing_id"`
	Reviewer  string `json:"reviewer"`
	Rating    uint8  `json:"rating"`
}

func (*IdentityRegisteredData) eventPayload() {}
func (*ListingRegisteredData) eventPayload()  {}
func (*BookingCreatedData) eventPayload()     {}
func (*BookingConfirmedData) eventPayload()   {}
func (*BookingCompletedData) eventPayload()   {}
func (*ReviewSubmittedData) eventPayload()    {}
