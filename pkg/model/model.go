package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	MessageTypeStateChange = "state-change"

	// DeviceDetecting is the current device until the first successful scan.
	DeviceDetecting = "Detecting..."
	// BatteryUnknown is the battery placeholder.
	BatteryUnknown = "--"

	MuteOff = "Off"
	MuteOn  = "On"
)

// jsonNumber matches the JSON number grammar. Go float syntax is wider
// (hex, underscores, NaN, Inf, leading zeros) and must not leak onto the wire.
var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// Volume is a producer-defined volume value. It is kept as text and
// encoded as a JSON number whenever it is written as one.
type Volume string

func VolumeInt(v int) Volume {
	return Volume(strconv.Itoa(v))
}

// number returns the value when v is a finite JSON number.
func (v Volume) number() (float64, bool) {
	s := strings.TrimSpace(string(v))
	if !jsonNumber.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Equal compares numerically when both values are numbers, textually otherwise.
func (v Volume) Equal(o Volume) bool {
	a, aOK := v.number()
	b, bOK := o.number()
	if aOK && bOK {
		return a == b
	}
	return v == o
}

func (v Volume) MarshalJSON() ([]byte, error) {
	if jsonNumber.MatchString(string(v)) {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v *Volume) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal volume: %w", err)
		}
		*v = Volume(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unmarshal volume: %w", err)
	}
	*v = Volume(n.String())
	return nil
}

type Profile struct {
	Volume Volume `json:"vol" dynamodbav:"vol"`
	Mute   string `json:"mute" dynamodbav:"mute"`
}

// Memory is the persisted document.
type Memory struct {
	CurrentDevice string             `json:"currentDev" dynamodbav:"currentDev"`
	Battery       string             `json:"battery" dynamodbav:"battery"`
	Profiles      map[string]Profile `json:"profiles" dynamodbav:"profiles"`
}

func DefaultMemory() Memory {
	return Memory{
		CurrentDevice: DeviceDetecting,
		Battery:       BatteryUnknown,
		Profiles:      map[string]Profile{},
	}
}

// State is the projection pushed to observers.
type State struct {
	Device  string `json:"dev"`
	Volume  Volume `json:"vol"`
	Mute    string `json:"mute"`
	Battery string `json:"batt"`
}

type StateMessage struct {
	Type string `json:"type"`
	Data State  `json:"data"`
}
