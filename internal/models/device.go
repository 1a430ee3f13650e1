package models

// Device is a field controller registered by the user.
type Device struct {
	ID                ID        `json:"id"`
	Name              string    `json:"device_name"`
	Location          string    `json:"location"`
	CropType          string    `json:"crop_type"`
	MoistureThreshold float64   `json:"moisture_threshold"`
	IsActive          bool      `json:"is_active"`
	UserID            ID        `json:"user_id,omitempty"`
	CreatedAt         Timestamp `json:"created_at"`
	UpdatedAt         Timestamp `json:"updated_at"`
}

// DeviceInput is the request body for creating a device.
type DeviceInput struct {
	Name              string  `json:"device_name"`
	Location          string  `json:"location"`
	CropType          string  `json:"crop_type"`
	MoistureThreshold float64 `json:"moisture_threshold"`
}

// DeviceUpdate is a partial device update; nil fields are left unchanged.
type DeviceUpdate struct {
	Name              *string  `json:"device_name,omitempty"`
	Location          *string  `json:"location,omitempty"`
	CropType          *string  `json:"crop_type,omitempty"`
	MoistureThreshold *float64 `json:"moisture_threshold,omitempty"`
	IsActive          *bool    `json:"is_active,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u DeviceUpdate) Empty() bool {
	return u.Name == nil && u.Location == nil && u.CropType == nil && u.MoistureThreshold == nil && u.IsActive == nil
}

// Message is the generic {"message": ...} acknowledgement body.
type Message struct {
	Message   string `json:"message"`
	DeviceID  ID     `json:"device_id,omitempty"`
	UserID    ID     `json:"user_id,omitempty"`
	ReadingID ID     `json:"reading_id,omitempty"`
}
