package eventlog

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Record is one parsed authentication-failure event.
//
// RawUTC is the SystemTime attribute exactly as rendered by the OS
// (e.g. "2026-02-21T16:42:04.7999016Z"). It is kept for fingerprinting only
// and is never transmitted. Timestamp is the same instant converted to the
// host's local civil time with the original fractional-second digits
// preserved verbatim.
type Record struct {
	RawUTC      string
	Timestamp   string
	IPAddress   string
	Username    string
	Domain      string
	LogonType   string
	Status      string
	Workstation string
	SourcePort  string
}

// eventXML mirrors the subset of the Windows event schema the agent reads.
type eventXML struct {
	System struct {
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
}

// Parse extracts the fields of interest from a rendered event XML document.
// loc is the zone used for timestamp normalization, normally time.Local.
func Parse(doc string, loc *time.Location) (Record, error) {
	var ev eventXML
	if err := xml.Unmarshal([]byte(doc), &ev); err != nil {
		return Record{}, fmt.Errorf("eventlog: parse event xml: %w", err)
	}

	data := make(map[string]string, len(ev.EventData.Data))
	for _, d := range ev.EventData.Data {
		if d.Name != "" {
			data[d.Name] = strings.TrimSpace(d.Value)
		}
	}

	raw := ev.System.TimeCreated.SystemTime
	return Record{
		RawUTC:      raw,
		Timestamp:   utcToLocal(raw, loc),
		IPAddress:   data["IpAddress"],
		Username:    data["TargetUserName"],
		Domain:      data["TargetDomainName"],
		LogonType:   data["LogonType"],
		Status:      data["Status"],
		Workstation: data["WorkstationName"],
		SourcePort:  data["IpPort"],
	}, nil
}

// utcToLocal converts a Windows SystemTime UTC string to local civil time.
//
//	in:  "2026-02-21T16:42:04.7999016Z"
//	out: "2026-02-21T22:12:04.7999016"   (for UTC+5:30)
//
// Windows SystemTime carries up to 7 fractional-second digits. The fraction
// is carried over to the output verbatim — it is never reparsed or truncated.
// On any parse failure the input is returned unchanged.
func utcToLocal(raw string, loc *time.Location) string {
	if raw == "" {
		return ""
	}
	clean := strings.TrimSuffix(raw, "Z")
	frac := "0"
	if i := strings.IndexByte(clean, '.'); i >= 0 {
		frac = clean[i+1:]
		clean = clean[:i]
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", clean, time.UTC)
	if err != nil {
		return raw
	}
	return t.In(loc).Format("2006-01-02T15:04:05") + "." + frac
}
