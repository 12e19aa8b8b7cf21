package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ToolConfig describes one tool: which heaters it owns and their
// active/standby temperatures.
type ToolConfig struct {
	Number       int
	Heaters      []int
	ActiveTemps  []float64
	StandbyTemps []float64
}

// Machine is the materialised host configuration.
type Machine struct {
	// Axis travel limits in mm, indexed X, Y, Z.
	AxisMin [3]float64
	AxisMax [3]float64
	// Drives is axes plus extruder drives.
	Drives int

	HomingFeedRate float64
	TravelFeedRate float64
	ProbeSafeZ     float64
	// ProbePoints are the XY positions probed by the bed-equation cycle.
	ProbePoints [][2]float64

	CodeQueueLength int
	MacroDir        string
	GCodeDir        string

	SerialDevice      string
	SerialBaud        int
	SerialChecksum    bool
	AuxDevice         string
	AuxBaud           int
	AuxToolAdjust     int

	APIListen string

	NumHeaters int
}

// Defaults returns a Machine with workable defaults for a 200mm printer.
func Defaults() *Machine {
	return &Machine{
		AxisMax:         [3]float64{200, 200, 180},
		Drives:          4,
		HomingFeedRate:  50,
		TravelFeedRate:  100,
		ProbeSafeZ:      5,
		ProbePoints:     [][2]float64{{20, 20}, {180, 20}, {100, 180}},
		CodeQueueLength: 8,
		MacroDir:        "sys",
		GCodeDir:        "gcodes",
		SerialBaud:      115200,
		AuxBaud:         57600,
		APIListen:       ":7125",
		NumHeaters:      2,
	}
}

// LoadMachine materialises a Machine (and its tools) from a parsed Config.
// Missing sections and options fall back to Defaults.
func LoadMachine(c *Config) (*Machine, []ToolConfig, error) {
	m := Defaults()
	var tools []ToolConfig

	if c.HasSection("machine") {
		s, _ := c.Section("machine")
		if list, err := s.GetFloatList("axis_max", m.AxisMax[:]); err != nil {
			return nil, nil, err
		} else if len(list) >= 3 {
			copy(m.AxisMax[:], list)
		}
		if list, err := s.GetFloatList("axis_min", m.AxisMin[:]); err != nil {
			return nil, nil, err
		} else if len(list) >= 3 {
			copy(m.AxisMin[:], list)
		}
		var err error
		if m.Drives, err = s.GetInt("drives", m.Drives); err != nil {
			return nil, nil, err
		}
		if m.HomingFeedRate, err = s.GetFloat("homing_feed_rate", m.HomingFeedRate); err != nil {
			return nil, nil, err
		}
		if m.TravelFeedRate, err = s.GetFloat("travel_feed_rate", m.TravelFeedRate); err != nil {
			return nil, nil, err
		}
		if m.ProbeSafeZ, err = s.GetFloat("probe_safe_z", m.ProbeSafeZ); err != nil {
			return nil, nil, err
		}
		if s.HasOption("probe_points") {
			raw, _ := s.Get("probe_points")
			points, err := parsePoints(raw)
			if err != nil {
				return nil, nil, err
			}
			m.ProbePoints = points
		}
		if m.NumHeaters, err = s.GetInt("heaters", m.NumHeaters); err != nil {
			return nil, nil, err
		}
	}

	if c.HasSection("interpreter") {
		s, _ := c.Section("interpreter")
		var err error
		if m.CodeQueueLength, err = s.GetInt("code_queue_length", m.CodeQueueLength); err != nil {
			return nil, nil, err
		}
		if m.MacroDir, err = s.Get("macro_dir", m.MacroDir); err != nil {
			return nil, nil, err
		}
		if m.GCodeDir, err = s.Get("gcode_dir", m.GCodeDir); err != nil {
			return nil, nil, err
		}
	}

	if c.HasSection("serial") {
		s, _ := c.Section("serial")
		var err error
		if m.SerialDevice, err = s.Get("device", ""); err != nil {
			return nil, nil, err
		}
		if m.SerialBaud, err = s.GetInt("baud", m.SerialBaud); err != nil {
			return nil, nil, err
		}
		if m.SerialChecksum, err = s.GetBool("require_checksum", false); err != nil {
			return nil, nil, err
		}
	}

	if c.HasSection("aux") {
		s, _ := c.Section("aux")
		var err error
		if m.AuxDevice, err = s.Get("device", ""); err != nil {
			return nil, nil, err
		}
		if m.AuxBaud, err = s.GetInt("baud", m.AuxBaud); err != nil {
			return nil, nil, err
		}
		if m.AuxToolAdjust, err = s.GetInt("tool_adjust", 0); err != nil {
			return nil, nil, err
		}
	}

	if c.HasSection("api") {
		s, _ := c.Section("api")
		var err error
		if m.APIListen, err = s.Get("listen", m.APIListen); err != nil {
			return nil, nil, err
		}
	}

	for _, name := range c.SectionNames() {
		if !strings.HasPrefix(name, "tool ") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, "tool ")))
		if err != nil {
			return nil, nil, fmt.Errorf("config: bad tool section [%s]", name)
		}
		s, _ := c.Section(name)
		tc := ToolConfig{Number: num}
		heaters, err := s.GetFloatList("heaters", []float64{})
		if err != nil {
			return nil, nil, err
		}
		for _, h := range heaters {
			tc.Heaters = append(tc.Heaters, int(h))
		}
		if tc.ActiveTemps, err = s.GetFloatList("active_temps", make([]float64, len(tc.Heaters))); err != nil {
			return nil, nil, err
		}
		if tc.StandbyTemps, err = s.GetFloatList("standby_temps", make([]float64, len(tc.Heaters))); err != nil {
			return nil, nil, err
		}
		tools = append(tools, tc)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Number < tools[j].Number })

	return m, tools, nil
}

// parsePoints parses "x1,y1; x2,y2; ..." probe point lists.
func parsePoints(raw string) ([][2]float64, error) {
	var points [][2]float64
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		xy := strings.Split(pair, ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("config: bad probe point %q", pair)
		}
		x, err1 := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("config: bad probe point %q", pair)
		}
		points = append(points, [2]float64{x, y})
	}
	return points, nil
}
