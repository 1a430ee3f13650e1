package models

// DeviceExportResult is the outcome of exporting one device's history.
type DeviceExportResult struct {
	DeviceID   ID       `json:"device_id"`
	DeviceName string   `json:"device_name"`
	Success    bool     `json:"success"`
	Files      []string `json:"files,omitempty"`
	Readings   int      `json:"readings"`
	PumpEvents int      `json:"pump_events"`
	Error      error    `json:"-"`
}

// ExportResult summarizes a multi-device history export.
type ExportResult struct {
	TotalDevices      int                  `json:"total_devices"`
	SuccessfulExports int                  `json:"successful_exports"`
	FailedExports     int                  `json:"failed_exports"`
	OutputDirectory   string               `json:"output_directory"`
	ManifestPath      string               `json:"manifest_path,omitempty"`
	Results           []DeviceExportResult `json:"results"`
}
