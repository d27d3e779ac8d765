package domain

import "time"

// Tick is one timestamped price observation for a symbol. The optional
// fields carry the rest of an option-chain row when the feed provides it.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`

	Open         float64   `json:"open,omitempty"`
	Volume       float64   `json:"volume,omitempty"`
	OpenInterest float64   `json:"open_interest,omitempty"`
	ChangeInOI   float64   `json:"change_in_oi,omitempty"`
	OptionType   string    `json:"option_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
