// package formatter provides functions to export device history to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(ts models.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(timeLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// rainLabel renders the rain sensor flag the way the dashboard shows it
func rainLabel(r models.SensorReading) string {
	if r.Raining() {
		return "Rain"
	}
	return "Dry"
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ReadingsToCSV converts readings to CSV with columns: ID, Device, Timestamp, Soil Moisture, Temperature, Humidity, Rain
func ReadingsToCSV(readings []models.SensorReading) ([]byte, error) {
	rows := [][]string{{"ID", "Device", "Timestamp", "Soil Moisture", "Temperature", "Humidity", "Rain"}}
	for _, r := range readings {
		rows = append(rows, []string{
			r.ID.String(),
			r.DeviceID.String(),
			formatTime(r.Timestamp),
			formatFloat(r.SoilMoisture),
			formatFloat(r.Temperature),
			formatFloat(r.Humidity),
			strconv.Itoa(r.RainSensor),
		})
	}
	return writeCSV(rows)
}

// PumpLogsToCSV converts pump events to CSV with columns: ID, Device, Timestamp, Status, Reason
func PumpLogsToCSV(logs []models.PumpLog) ([]byte, error) {
	rows := [][]string{{"ID", "Device", "Timestamp", "Status", "Reason"}}
	for _, l := range logs {
		rows = append(rows, []string{
			l.ID.String(),
			l.DeviceID.String(),
			formatTime(l.Timestamp),
			string(l.PumpStatus),
			l.Reason,
		})
	}
	return writeCSV(rows)
}

// ExportToMarkdown renders a device history as a Markdown report
func ExportToMarkdown(history *models.DeviceHistory) ([]byte, error) {
	var buf bytes.Buffer
	d := history.Device

	fmt.Fprintf(&buf, "# %s\n\n", d.Name)
	if d.Location != "" {
		fmt.Fprintf(&buf, "**Location**: %s\n", d.Location)
	}
	if d.CropType != "" {
		fmt.Fprintf(&buf, "**Crop**: %s\n", d.CropType)
	}
	fmt.Fprintf(&buf, "**Moisture threshold**: %s%%\n", formatFloat(d.MoistureThreshold))
	fmt.Fprintf(&buf, "**Window**: last %d days\n", history.Days)
	fmt.Fprintf(&buf, "**Readings**: %d\n\n", len(history.Readings))

	if len(history.Readings) > 0 {
		low, high, mean := history.MoistureRange()
		fmt.Fprintf(&buf, "Soil moisture ranged from %s%% to %s%% (mean %s%%).\n\n", formatFloat(low), formatFloat(high), formatFloat(mean))

		buf.WriteString("## Readings\n\n")
		buf.WriteString("| Time | Moisture | Temperature | Humidity | Rain |\n")
		buf.WriteString("|---|---|---|---|---|\n")
		for _, r := range history.Readings {
			fmt.Fprintf(&buf, "| %s | %s%% | %s°C | %s%% | %s |\n",
				formatTime(r.Timestamp), formatFloat(r.SoilMoisture), formatFloat(r.Temperature), formatFloat(r.Humidity), rainLabel(r))
		}
		buf.WriteString("\n")
	}

	if len(history.PumpLogs) > 0 {
		buf.WriteString("## Pump Events\n\n")
		for i, l := range history.PumpLogs {
			fmt.Fprintf(&buf, "%d. %s pump %s (%s)\n", i+1, formatTime(l.Timestamp), l.PumpStatus, l.Reason)
		}
	}

	return buf.Bytes(), nil
}

// ExportToText converts a device history to plain text format
func ExportToText(history *models.DeviceHistory) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Device: %s (%s)\n", history.Device.Name, history.Device.ID)
	if history.Device.Location != "" {
		fmt.Fprintf(&buf, "Location: %s\n", history.Device.Location)
	}
	fmt.Fprintf(&buf, "Readings: %d\n", len(history.Readings))
	fmt.Fprintf(&buf, "Pump events: %d\n\n", len(history.PumpLogs))

	for i, r := range history.Readings {
		fmt.Fprintf(&buf, "%d. %s moisture=%s%% temp=%s humidity=%s%% %s\n",
			i+1, formatTime(r.Timestamp), formatFloat(r.SoilMoisture), formatFloat(r.Temperature), formatFloat(r.Humidity), rainLabel(r))
	}

	return buf.Bytes(), nil
}

// ToMetadataJSON generates a JSON representation of the device (without readings)
func ToMetadataJSON(history *models.DeviceHistory) ([]byte, error) {
	return shared.MarshalJSON(struct {
		Device     models.Device    `json:"device"`
		Days       int              `json:"days"`
		Readings   int              `json:"readings"`
		PumpEvents int              `json:"pump_events"`
		ExportedAt models.Timestamp `json:"exported_at"`
	}{history.Device, history.Days, len(history.Readings), len(history.PumpLogs), history.ExportedAt}, true)
}

func baseName(history *models.DeviceHistory) string {
	return "device_" + history.Device.ID.String()
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	ReadingsFile string
	PumpLogsFile string
	MetadataFile string
}

// WriteCSVExport exports a device history to CSV with an accompanying metadata JSON file.
//
// Defaults to device_{id} as the base path & creates {base}_readings.csv, {base}_pump_logs.csv and {base}_metadata.json
func WriteCSVExport(history *models.DeviceHistory, basePath string) (*CSVExportResult, error) {
	if basePath == "" {
		basePath = baseName(history)
	}

	readings, err := ReadingsToCSV(history.Readings)
	if err != nil {
		return nil, fmt.Errorf("failed to generate readings CSV: %w", err)
	}
	logs, err := PumpLogsToCSV(history.PumpLogs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pump log CSV: %w", err)
	}
	metadata, err := ToMetadataJSON(history)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	result := &CSVExportResult{
		ReadingsFile: basePath + "_readings.csv",
		PumpLogsFile: basePath + "_pump_logs.csv",
		MetadataFile: basePath + "_metadata.json",
	}
	for path, data := range map[string][]byte{
		result.ReadingsFile: readings,
		result.PumpLogsFile: logs,
		result.MetadataFile: metadata,
	} {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	return result, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory string
	Files     []string
}

// WriteMarkdownExport exports a device history to Markdown in a dedicated directory.
//
// Directory name defaults to device_{id}. Creates {dir}/README.md and {dir}/readings.csv
func WriteMarkdownExport(history *models.DeviceHistory, outputDir string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = baseName(history)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(history)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}
	csvData, err := ReadingsToCSV(history.Readings)
	if err != nil {
		return nil, fmt.Errorf("failed to generate readings CSV: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir}
	for _, f := range []struct {
		name string
		data []byte
	}{{"README.md", mdData}, {"readings.csv", csvData}} {
		path := filepath.Join(outputDir, f.name)
		if err := os.WriteFile(path, f.data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		result.Files = append(result.Files, path)
	}

	return result, nil
}

// WriteTextExport exports a device history to plain text format.
//
// Defaults to device_{id}_history.txt as the filename.
func WriteTextExport(history *models.DeviceHistory, path string) (string, error) {
	if path == "" {
		path = baseName(history) + "_history.txt"
	}

	textData, err := ExportToText(history)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

// NewHistory assembles a history stamped with the current time.
func NewHistory(device models.Device, days int, readings []models.SensorReading, logs []models.PumpLog) *models.DeviceHistory {
	return &models.DeviceHistory{
		Device:     device,
		Days:       days,
		Readings:   readings,
		PumpLogs:   logs,
		ExportedAt: models.NewTimestamp(time.Now().UTC()),
	}
}

type manifestEntry struct {
	DeviceID   models.ID `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Success    bool      `json:"success"`
	Files      []string  `json:"files,omitempty"`
	Readings   int       `json:"readings"`
	PumpEvents int       `json:"pump_events"`
	Error      string    `json:"error,omitempty"`
}

// WriteExportManifest writes a JSON summary of a multi-device export to path
func WriteExportManifest(result *models.ExportResult, format, path string) error {
	entries := make([]manifestEntry, 0, len(result.Results))
	for _, r := range result.Results {
		e := manifestEntry{
			DeviceID:   r.DeviceID,
			DeviceName: r.DeviceName,
			Success:    r.Success,
			Files:      r.Files,
			Readings:   r.Readings,
			PumpEvents: r.PumpEvents,
		}
		if r.Error != nil {
			e.Error = r.Error.Error()
		}
		entries = append(entries, e)
	}

	data, err := shared.MarshalJSON(struct {
		Format     string           `json:"format"`
		ExportedAt models.Timestamp `json:"exported_at"`
		Total      int              `json:"total_devices"`
		Successful int              `json:"successful_exports"`
		Failed     int              `json:"failed_exports"`
		Devices    []manifestEntry  `json:"devices"`
	}{format, models.NewTimestamp(time.Now().UTC()), result.TotalDevices, result.SuccessfulExports, result.FailedExports, entries}, true)
	if err != nil {
		return fmt.Errorf("failed to generate manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
