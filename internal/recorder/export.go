package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/tormoder/fit"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// EncodeFIT renders the activity as a FIT activity file: one record per
// track point, one lap message per lap, one running session.
func EncodeFIT(a Activity) ([]byte, error) {
	if len(a.Laps) == 0 {
		return nil, fmt.Errorf("encode fit: activity %s has no laps", a.ID)
	}

	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		return nil, fmt.Errorf("new fit file: %w", err)
	}
	file.FileId.TimeCreated = a.StartTime
	file.FileId.Manufacturer = fit.ManufacturerDevelopment

	activity, err := file.Activity()
	if err != nil {
		return nil, fmt.Errorf("fit activity: %w", err)
	}

	end := a.Laps[len(a.Laps)-1].EndTime

	start := fit.NewEventMsg()
	start.Timestamp = a.StartTime
	start.Event = fit.EventTimer
	start.EventType = fit.EventTypeStart
	activity.Events = append(activity.Events, start)

	var maxSpeed float64
	for _, lap := range a.Laps {
		for _, p := range lap.Points {
			activity.Records = append(activity.Records, fitRecord(p))
		}
		maxSpeed = max(maxSpeed, lap.MaxSpeedMps())

		msg := fit.NewLapMsg()
		msg.Timestamp = lap.EndTime
		msg.StartTime = lap.StartTime
		msg.TotalElapsedTime = fitScaled(lap.TotalTimeSeconds(), 1000)
		msg.TotalTimerTime = msg.TotalElapsedTime
		msg.TotalDistance = fitScaled(lap.DistanceMeters(), 100)
		msg.MaxSpeed = uint16(fitScaled(lap.MaxSpeedMps(), 1000))
		if avg, maxBpm, ok := lap.HeartRate(); ok {
			msg.AvgHeartRate = uint8(min(avg, 254))
			msg.MaxHeartRate = uint8(min(maxBpm, 254))
		}
		msg.Sport = fit.SportRunning
		msg.Event = fit.EventLap
		msg.EventType = fit.EventTypeStop
		activity.Laps = append(activity.Laps, msg)
	}

	stop := fit.NewEventMsg()
	stop.Timestamp = end
	stop.Event = fit.EventTimer
	stop.EventType = fit.EventTypeStopAll
	activity.Events = append(activity.Events, stop)

	elapsed := end.Sub(a.StartTime).Seconds()
	session := fit.NewSessionMsg()
	session.Timestamp = end
	session.StartTime = a.StartTime
	session.TotalElapsedTime = fitScaled(elapsed, 1000)
	session.TotalTimerTime = session.TotalElapsedTime
	session.TotalDistance = fitScaled(a.DistanceMeters(), 100)
	session.MaxSpeed = uint16(fitScaled(maxSpeed, 1000))
	session.Sport = fit.SportRunning
	session.SubSport = fit.SubSportTreadmill
	session.NumLaps = uint16(len(a.Laps))
	session.Event = fit.EventSession
	session.EventType = fit.EventTypeStop
	activity.Sessions = append(activity.Sessions, session)

	activity.Activity = fit.NewActivityMsg()
	activity.Activity.Timestamp = end
	activity.Activity.TotalTimerTime = session.TotalTimerTime
	activity.Activity.NumSessions = 1
	activity.Activity.Type = fit.ActivityModeManual
	activity.Activity.Event = fit.EventActivity
	activity.Activity.EventType = fit.EventTypeStop

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode fit: %w", err)
	}
	return buf.Bytes(), nil
}

func fitRecord(p TrackPoint) *fit.RecordMsg {
	rec := fit.NewRecordMsg()
	rec.Timestamp = p.Time
	rec.Distance = fitScaled(p.DistanceMeters, 100)
	rec.Speed = uint16(fitScaled(p.SpeedMps, 1000))
	rec.Grade = int16(math.Round(p.InclinePercent * 100))
	if p.HeartRateBpm > 0 {
		rec.HeartRate = uint8(min(p.HeartRateBpm, 254))
	}
	if p.Position != nil {
		rec.PositionLat = fit.NewLatitudeDegrees(p.Position.Latitude)
		rec.PositionLong = fit.NewLongitudeDegrees(p.Position.Longitude)
	}
	return rec
}

func fitScaled(v, scale float64) uint32 {
	if v <= 0 {
		return 0
	}
	return uint32(math.Round(v * scale))
}

// ExportFIT writes EncodeFIT's output to path
func ExportFIT(a Activity, path string) error {
	raw, err := EncodeFIT(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write fit: %w", err)
	}
	return nil
}

type trackPointRow struct {
	TSUTCISO      string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ElapsedS      float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	Lap           int32   `parquet:"name=lap, type=INT32"`
	DistanceM     float64 `parquet:"name=distance_m, type=DOUBLE"`
	SpeedMPS      float64 `parquet:"name=speed_mps, type=DOUBLE"`
	InclinePct    float64 `parquet:"name=incline_pct, type=DOUBLE"`
	HRBPM         float64 `parquet:"name=hr_bpm, type=DOUBLE"`
	ValidHR       bool    `parquet:"name=valid_hr, type=BOOLEAN"`
	LatitudeDeg   float64 `parquet:"name=latitude_deg, type=DOUBLE"`
	LongitudeDeg  float64 `parquet:"name=longitude_deg, type=DOUBLE"`
	ValidPosition bool    `parquet:"name=valid_position, type=BOOLEAN"`
}

// EncodeParquet renders one row per track point, NaN where a value is missing
func EncodeParquet(a Activity) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(trackPointRow), 4)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, lap := range a.Laps {
		for _, p := range lap.Points {
			row := trackPointRow{
				TSUTCISO:     p.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				ElapsedS:     p.Time.Sub(a.StartTime).Seconds(),
				Lap:          int32(i + 1),
				DistanceM:    p.DistanceMeters,
				SpeedMPS:     p.SpeedMps,
				InclinePct:   p.InclinePercent,
				HRBPM:        math.NaN(),
				LatitudeDeg:  math.NaN(),
				LongitudeDeg: math.NaN(),
			}
			if p.HeartRateBpm > 0 {
				row.HRBPM = float64(p.HeartRateBpm)
				row.ValidHR = true
			}
			if p.Position != nil {
				row.LatitudeDeg = p.Position.Latitude
				row.LongitudeDeg = p.Position.Longitude
				row.ValidPosition = true
			}
			if err := pw.Write(row); err != nil {
				_ = pw.WriteStop()
				return nil, fmt.Errorf("write parquet row: %w", err)
			}
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

func ExportParquet(a Activity, path string) error {
	raw, err := EncodeParquet(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}
