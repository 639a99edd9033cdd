package recorder

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TCX and TPX namespaces
const (
	nsTCX = "http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"
	nsTPX = "http://www.garmin.com/xmlschemas/ActivityExtension/v2"
)

// Elements follow the TrainingCenterDatabase v2 sequence order
type tcxLap struct {
	XMLName             xml.Name  `xml:"Lap"`
	StartTime           string    `xml:"StartTime,attr"`
	TotalTimeSeconds    string    `xml:"TotalTimeSeconds"`
	DistanceMeters      string    `xml:"DistanceMeters"`
	MaximumSpeed        string    `xml:"MaximumSpeed,omitempty"`
	Calories            int       `xml:"Calories"`
	AverageHeartRateBpm *tcxValue `xml:"AverageHeartRateBpm,omitempty"`
	MaximumHeartRateBpm *tcxValue `xml:"MaximumHeartRateBpm,omitempty"`
	Intensity           string    `xml:"Intensity"`
	TriggerMethod       string    `xml:"TriggerMethod"`
	Track               tcxTrack  `xml:"Track"`
}

type tcxValue struct {
	Value int `xml:"Value"`
}

type tcxTrack struct {
	Trackpoints []tcxTrackpoint `xml:"Trackpoint"`
}

type tcxTrackpoint struct {
	Time           string        `xml:"Time"`
	Position       *tcxPosition  `xml:"Position,omitempty"`
	AltitudeMeters string        `xml:"AltitudeMeters,omitempty"`
	DistanceMeters string        `xml:"DistanceMeters"`
	HeartRateBpm   *tcxValue     `xml:"HeartRateBpm,omitempty"`
	Extensions     tcxExtensions `xml:"Extensions"`
}

type tcxPosition struct {
	LatitudeDegrees  string `xml:"LatitudeDegrees"`
	LongitudeDegrees string `xml:"LongitudeDegrees"`
}

type tcxExtensions struct {
	TPX tcxTPX `xml:"ns3:TPX"`
}

type tcxTPX struct {
	Speed   string `xml:"ns3:Speed"`
	Incline string `xml:"ns3:Incline"`
}

func tcxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func newTCXLap(lap Lap) tcxLap {
	out := tcxLap{
		StartTime:        tcxTime(lap.StartTime),
		TotalTimeSeconds: formatFloat(lap.TotalTimeSeconds(), 1),
		DistanceMeters:   formatFloat(lap.DistanceMeters(), 1),
		Intensity:        "Active",
		TriggerMethod:    "Manual",
	}
	if len(lap.Points) > 0 {
		out.MaximumSpeed = formatFloat(lap.MaxSpeedMps(), 3)
	}
	if avg, maxBpm, ok := lap.HeartRate(); ok {
		out.AverageHeartRateBpm = &tcxValue{Value: avg}
		out.MaximumHeartRateBpm = &tcxValue{Value: maxBpm}
	}

	out.Track.Trackpoints = make([]tcxTrackpoint, 0, len(lap.Points))
	for _, p := range lap.Points {
		tp := tcxTrackpoint{
			Time:           tcxTime(p.Time),
			DistanceMeters: formatFloat(p.DistanceMeters, 2),
			Extensions: tcxExtensions{TPX: tcxTPX{
				Speed:   formatFloat(p.SpeedMps, 3),
				Incline: formatFloat(p.InclinePercent, 2),
			}},
		}
		if p.Position != nil {
			tp.Position = &tcxPosition{
				LatitudeDegrees:  formatFloat(p.Position.Latitude, 7),
				LongitudeDegrees: formatFloat(p.Position.Longitude, 7),
			}
			tp.AltitudeMeters = formatFloat(p.Position.Elevation, 1)
		}
		if p.HeartRateBpm > 0 {
			tp.HeartRateBpm = &tcxValue{Value: p.HeartRateBpm}
		}
		out.Track.Trackpoints = append(out.Track.Trackpoints, tp)
	}
	return out
}

func writeTCXHeader(w io.Writer, start time.Time) error {
	_, err := fmt.Fprintf(w, `%s<TrainingCenterDatabase xmlns="%s" xmlns:ns3="%s">
  <Activities>
    <Activity Sport="Running">
      <Id>%s</Id>
`, xml.Header, nsTCX, nsTPX, tcxTime(start))
	if err != nil {
		return fmt.Errorf("write tcx header: %w", err)
	}
	return nil
}

func writeTCXLap(w io.Writer, lap Lap) error {
	raw, err := xml.MarshalIndent(newTCXLap(lap), "      ", "  ")
	if err != nil {
		return fmt.Errorf("marshal lap: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write lap: %w", err)
	}
	return nil
}

func writeTCXFooter(w io.Writer) error {
	_, err := io.WriteString(w, `    </Activity>
  </Activities>
</TrainingCenterDatabase>
`)
	if err != nil {
		return fmt.Errorf("write tcx footer: %w", err)
	}
	return nil
}

// WriteTCX writes a complete TCX document for a in one pass
func WriteTCX(w io.Writer, a Activity) error {
	if err := writeTCXHeader(w, a.StartTime); err != nil {
		return err
	}
	for _, lap := range a.Laps {
		if err := writeTCXLap(w, lap); err != nil {
			return err
		}
	}
	return writeTCXFooter(w)
}
