package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/irrigo/internal/models"
)

var _ list.Item = deviceItem{}

// deviceItem wraps [models.Device] to implement [list.Item].
type deviceItem struct {
	device   models.Device
	selected bool
}

func (i deviceItem) FilterValue() string { return i.device.Name }
func (i deviceItem) Title() string {
	if i.selected {
		return "● " + i.device.Name
	}
	return i.device.Name
}
func (i deviceItem) Description() string {
	desc := fmt.Sprintf("threshold %.0f%%", i.device.MoistureThreshold)
	if i.device.Location != "" {
		desc = fmt.Sprintf("%s • %s", i.device.Location, desc)
	}
	if i.device.CropType != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.device.CropType)
	}
	if !i.device.IsActive {
		desc += " • inactive"
	}
	return desc
}

func deviceItems(devices []models.Device, selected models.ID) []list.Item {
	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = deviceItem{device: d, selected: d.ID == selected}
	}
	return items
}
