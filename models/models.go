package models

// Kid represents a child on the roster
type Kid struct {
	ID   int64  `json:"id"`   // Assigned by the store, increasing in creation order
	Name string `json:"name"` // Display name, never blank
}

// Day represents one calendar day that has an attendance sheet
type Day struct {
	ID   int64  `json:"id"`
	Date string `json:"date"` // Canonical YYYY-MM-DD
}

// SheetEntry is one kid's line on a day's sheet
type SheetEntry struct {
	KidID   int64  `json:"kid_id"`
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// Sheet is the attendance for one day, ordered by kid name
type Sheet struct {
	DayID      int64        `json:"dayId"`
	Date       string       `json:"date"`
	Attendance []SheetEntry `json:"attendance"`
}

// NewKidRequest is the body of POST /kids
type NewKidRequest struct {
	Name string `json:"name"`
}

// MarkRequest is the body of POST /attendance/mark
type MarkRequest struct {
	DayID   int64 `json:"dayId"`
	KidID   int64 `json:"kidId"`
	Present bool  `json:"present"`
}
