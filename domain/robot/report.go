package robot

// GPSReport is a possibly partial GPS block from a telemetry response.
type GPSReport struct {
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
}

// StatusReport is one telemetry response as received. Nil fields were absent
// from the response and must not overwrite what the dashboard already shows.
type StatusReport struct {
	Online         *bool      `json:"online,omitempty"`
	BatteryVoltage *float64   `json:"batteryVoltage,omitempty"`
	CPUTemp        *float64   `json:"cpuTemp,omitempty"`
	Mode           *Mode      `json:"mode,omitempty"`
	GPS            *GPSReport `json:"gps,omitempty"`
	Heading        *float64   `json:"heading,omitempty"`
}

// FullReport wraps a complete status so that applying it replaces every field.
func FullReport(s Status) StatusReport {
	online, battery, cpu, mode, heading := s.Online, s.BatteryVoltage, s.CPUTemp, s.Mode, s.Heading
	lat, lng, sats := s.GPS.Lat, s.GPS.Lng, s.GPS.Satellites
	return StatusReport{
		Online:         &online,
		BatteryVoltage: &battery,
		CPUTemp:        &cpu,
		Mode:           &mode,
		GPS:            &GPSReport{Lat: &lat, Lng: &lng, Satellites: &sats},
		Heading:        &heading,
	}
}

// ApplyTo merges the present fields of r over prev. Unknown mode values and
// non-finite headings are ignored or normalized rather than copied in.
func (r StatusReport) ApplyTo(prev Status) Status {
	next := prev
	if r.Online != nil {
		next.Online = *r.Online
	}
	if r.BatteryVoltage != nil {
		next.BatteryVoltage = *r.BatteryVoltage
	}
	if r.CPUTemp != nil {
		next.CPUTemp = *r.CPUTemp
	}
	if r.Mode != nil && r.Mode.Valid() {
		next.Mode = *r.Mode
	}
	if r.GPS != nil {
		if r.GPS.Lat != nil {
			next.GPS.Lat = *r.GPS.Lat
		}
		if r.GPS.Lng != nil {
			next.GPS.Lng = *r.GPS.Lng
		}
		if r.GPS.Satellites != nil {
			next.GPS.Satellites = *r.GPS.Satellites
		}
	}
	if r.Heading != nil {
		next.Heading = NormalizeHeading(*r.Heading)
	}
	return next
}

// WithoutMode returns a copy of r that leaves mode untouched when applied.
func (r StatusReport) WithoutMode() StatusReport {
	r.Mode = nil
	return r
}

// HasMode reports whether the response carried a usable mode field.
func (r StatusReport) HasMode() bool {
	return r.Mode != nil && r.Mode.Valid()
}
