// Package vhal holds the vehicle property layout shared by the cluster home
// daemon and the cluster OS peer.
package vhal

import (
	"fmt"

	"github.com/1broseidon/clusterhome/internal/platform"
)

// Vehicle property groups.
const (
	GroupSystem uint32 = 0x10000000
	GroupVendor uint32 = 0x20000000
	GroupMask   uint32 = 0xf0000000
)

// System property ids.
const (
	ClusterSwitchUI    uint32 = 0x11400F34
	ClusterReportState uint32 = 0x11E00F35
)

// Vendor ids the cluster OS listens on.
var (
	VendorClusterSwitchUI    = ToVendorID(ClusterSwitchUI)
	VendorClusterReportState = ToVendorID(ClusterReportState)
)

// ReportStateMinLen is the minimum number of int32 values in a
// CLUSTER_REPORT_STATE vector.
const ReportStateMinLen = 11

// Indexes into the CLUSTER_REPORT_STATE int32 vector.
const (
	idxDisplayOn = 0
	idxBounds    = 1
	idxInsets    = 5
	idxMainUI    = 9
	idxSubUI     = 10
)

// ToVendorID moves a property id into the vendor group.
func ToVendorID(propID uint32) uint32 {
	return (propID &^ GroupMask) | GroupVendor
}

// PropertyName returns a readable name for known property ids.
func PropertyName(propID uint32) string {
	switch propID {
	case ClusterSwitchUI:
		return "CLUSTER_SWITCH_UI"
	case ClusterReportState:
		return "CLUSTER_REPORT_STATE"
	case VendorClusterSwitchUI:
		return "VENDOR_CLUSTER_SWITCH_UI"
	case VendorClusterReportState:
		return "VENDOR_CLUSTER_REPORT_STATE"
	default:
		return fmt.Sprintf("0x%08x", propID)
	}
}

// Insets are the unobscured margins of the cluster display.
type Insets struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// ReportState is the decoded CLUSTER_REPORT_STATE value.
type ReportState struct {
	On           bool
	Bounds       platform.Rect
	Insets       Insets
	MainUI       int
	SubUI        int
	Availability []byte
}

// EncodeReportState lays out r as the int32 vector plus availability bytes.
func EncodeReportState(r ReportState) ([]int32, []byte) {
	values := make([]int32, ReportStateMinLen)
	if r.On {
		values[idxDisplayOn] = 1
	}
	values[idxBounds] = int32(r.Bounds.X)
	values[idxBounds+1] = int32(r.Bounds.Y)
	values[idxBounds+2] = int32(r.Bounds.X + r.Bounds.Width)
	values[idxBounds+3] = int32(r.Bounds.Y + r.Bounds.Height)
	values[idxInsets] = int32(r.Insets.Left)
	values[idxInsets+1] = int32(r.Insets.Top)
	values[idxInsets+2] = int32(r.Insets.Right)
	values[idxInsets+3] = int32(r.Insets.Bottom)
	values[idxMainUI] = int32(r.MainUI)
	values[idxSubUI] = int32(r.SubUI)
	return values, append([]byte(nil), r.Availability...)
}

// DecodeReportState parses a CLUSTER_REPORT_STATE value. Vectors shorter
// than ReportStateMinLen are rejected.
func DecodeReportState(values []int32, availability []byte) (ReportState, error) {
	if len(values) < ReportStateMinLen {
		return ReportState{}, fmt.Errorf("vhal: report state has %d values, want at least %d", len(values), ReportStateMinLen)
	}
	left, top := int(values[idxBounds]), int(values[idxBounds+1])
	return ReportState{
		On: values[idxDisplayOn] != 0,
		Bounds: platform.Rect{
			X:      left,
			Y:      top,
			Width:  int(values[idxBounds+2]) - left,
			Height: int(values[idxBounds+3]) - top,
		},
		Insets: Insets{
			Left:   int(values[idxInsets]),
			Top:    int(values[idxInsets+1]),
			Right:  int(values[idxInsets+2]),
			Bottom: int(values[idxInsets+3]),
		},
		MainUI:       int(values[idxMainUI]),
		SubUI:        int(values[idxSubUI]),
		Availability: append([]byte(nil), availability...),
	}, nil
}

// EncodeSwitchUI builds the CLUSTER_SWITCH_UI payload for mainUI.
func EncodeSwitchUI(mainUI int) []int32 {
	return []int32{int32(mainUI), int32(platform.UITypeNone)}
}

// DecodeSwitchUI returns the requested main UI of a CLUSTER_SWITCH_UI value.
func DecodeSwitchUI(values []int32) (int, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("vhal: empty switch ui value")
	}
	return int(values[0]), nil
}
