package eventlog

import (
	"testing"
	"time"
)

const sampleEvent = `<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>4625</EventID>
    <TimeCreated SystemTime="2026-02-21T16:42:04.7999016Z"/>
    <Channel>Security</Channel>
  </System>
  <EventData>
    <Data Name="TargetUserName">administrator</Data>
    <Data Name="TargetDomainName">CORP</Data>
    <Data Name="Status">0xC000006A</Data>
    <Data Name="LogonType">3</Data>
    <Data Name="WorkstationName">WIN-ATTACK</Data>
    <Data Name="IpAddress">203.0.113.10</Data>
    <Data Name="IpPort">49832</Data>
  </EventData>
</Event>`

func TestParse_ExtractsNamedFields(t *testing.T) {
	rec, err := Parse(sampleEvent, time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if rec.RawUTC != "2026-02-21T16:42:04.7999016Z" {
		t.Errorf("RawUTC = %q", rec.RawUTC)
	}
	if rec.IPAddress != "203.0.113.10" {
		t.Errorf("IPAddress = %q", rec.IPAddress)
	}
	if rec.Username != "administrator" {
		t.Errorf("Username = %q", rec.Username)
	}
	if rec.Domain != "CORP" {
		t.Errorf("Domain = %q", rec.Domain)
	}
	if rec.LogonType != "3" {
		t.Errorf("LogonType = %q", rec.LogonType)
	}
	if rec.Status != "0xC000006A" {
		t.Errorf("Status = %q", rec.Status)
	}
	if rec.Workstation != "WIN-ATTACK" {
		t.Errorf("Workstation = %q", rec.Workstation)
	}
	if rec.SourcePort != "49832" {
		t.Errorf("SourcePort = %q", rec.SourcePort)
	}
}

func TestParse_MalformedXML(t *testing.T) {
	if _, err := Parse("<Event><System>", time.UTC); err == nil {
		t.Fatal("expected error for truncated XML")
	}
}

func TestUTCToLocal_PreservesSevenDigitFraction(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+30*60)

	got := utcToLocal("2026-02-21T16:42:04.7999016Z", ist)
	want := "2026-02-21T22:12:04.7999016"
	if got != want {
		t.Errorf("utcToLocal = %q, want %q", got, want)
	}
}

func TestUTCToLocal_NoFraction(t *testing.T) {
	got := utcToLocal("2026-02-21T16:42:04Z", time.UTC)
	if got != "2026-02-21T16:42:04.0" {
		t.Errorf("utcToLocal = %q", got)
	}
}

func TestUTCToLocal_Unparseable(t *testing.T) {
	// Garbage input is passed through so the caller still has a value to log.
	if got := utcToLocal("not-a-time", time.UTC); got != "not-a-time" {
		t.Errorf("utcToLocal = %q", got)
	}
}

func TestUTCToLocal_Empty(t *testing.T) {
	if got := utcToLocal("", time.UTC); got != "" {
		t.Errorf("utcToLocal = %q", got)
	}
}
