package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/netio"
)

// -------------------------------------------------------------------------
// FIX session settings — QuickFIX-style INI file
// -------------------------------------------------------------------------

// The settings file is line-oriented key=value under two section kinds:
// one [DEFAULT] providing fallbacks and one [SESSION] per session.
// Values never contain '='-escaping. A line whose first non-blank
// character is '#' or ';' is a comment; there are no trailing comments.

// Recognized section headers.
const (
	sectionDefault = "DEFAULT"
	sectionSession = "SESSION"
)

// Sentinel errors for settings parsing and validation.
var (
	// ErrBadSettings indicates a syntactically invalid settings file.
	ErrBadSettings = errors.New("malformed settings file")

	// ErrNoSessions indicates a settings file with no [SESSION] section.
	ErrNoSessions = errors.New("no sessions configured")

	// ErrBadOption indicates an option with an unusable value.
	ErrBadOption = errors.New("invalid option value")

	// ErrMissingOption indicates a required option is absent.
	ErrMissingOption = errors.New("missing required option")
)

// ConnectionType selects a session's orchestration role. It is resolved
// per [SESSION] like any other option (typically set once in
// [DEFAULT]), so one file may mix initiator and acceptor sessions.
type ConnectionType string

const (
	// ConnectionInitiator dials out.
	ConnectionInitiator ConnectionType = "initiator"

	// ConnectionAcceptor listens.
	ConnectionAcceptor ConnectionType = "acceptor"
)

// SessionProfile is one fully-resolved [SESSION] entry: the engine
// config plus everything the orchestration layer needs.
type SessionProfile struct {
	// Session is the engine-facing configuration.
	Session fix.SessionConfig

	// ConnectionType is initiator or acceptor.
	ConnectionType ConnectionType

	// ConnectAddr is the initiator's target endpoint (host:port).
	ConnectAddr string

	// AcceptAddr is the acceptor's listen endpoint (host:port).
	AcceptAddr string

	// ReconnectInterval is the initiator's retry delay.
	ReconnectInterval time.Duration

	// Socket carries transport tuning and optional TLS.
	Socket netio.SocketSettings

	// UseDataDictionary selects dictionary-file-driven validation.
	UseDataDictionary bool

	// DataDictionaryPath is the FIX 4.x dictionary file.
	DataDictionaryPath string

	// TransportDictionaryPath and AppDictionaryPath split the FIXT
	// session/application dictionaries.
	TransportDictionaryPath string
	AppDictionaryPath       string
}

// DefaultReconnectInterval is the initiator retry delay when
// ReconnectInterval is not configured.
const DefaultReconnectInterval = 30 * time.Second

// -------------------------------------------------------------------------
// Raw parsing
// -------------------------------------------------------------------------

// rawSettings is the parsed file: the DEFAULT map and one map per
// SESSION, session values overriding defaults on lookup.
type rawSettings struct {
	defaults map[string]string
	sessions []map[string]string
}

// parseSettings reads the INI-like format from r.
func parseSettings(r io.Reader) (*rawSettings, error) {
	out := &rawSettings{defaults: make(map[string]string)}
	var current map[string]string

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' {
			if line[len(line)-1] != ']' {
				return nil, fmt.Errorf("%w: line %d: unterminated section", ErrBadSettings, lineNo)
			}
			switch strings.ToUpper(strings.TrimSpace(line[1 : len(line)-1])) {
			case sectionDefault:
				current = out.defaults
			case sectionSession:
				session := make(map[string]string)
				out.sessions = append(out.sessions, session)
				current = session
			default:
				return nil, fmt.Errorf("%w: line %d: unknown section %s", ErrBadSettings, lineNo, line)
			}
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: line %d: expected key=value", ErrBadSettings, lineNo)
		}
		if current == nil {
			return nil, fmt.Errorf("%w: line %d: option outside a section", ErrBadSettings, lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		current[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(out.sessions) == 0 {
		return nil, ErrNoSessions
	}
	return out, nil
}

// sessionView resolves option lookups: session first, then DEFAULT.
type sessionView struct {
	raw     *rawSettings
	session map[string]string
}

// get returns the value and whether it was set in either layer.
func (v sessionView) get(key string) (string, bool) {
	if val, ok := v.session[key]; ok {
		return val, true
	}
	val, ok := v.raw.defaults[key]
	return val, ok
}

// str returns the value or def.
func (v sessionView) str(key, def string) string {
	if val, ok := v.get(key); ok {
		return val
	}
	return def
}

// boolean parses Y/N (and true/false for convenience).
func (v sessionView) boolean(key string, def bool) (bool, error) {
	val, ok := v.get(key)
	if !ok {
		return def, nil
	}
	switch strings.ToUpper(val) {
	case "Y", "YES", "TRUE":
		return true, nil
	case "N", "NO", "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrBadOption, key, val)
	}
}

// integer parses a decimal int.
func (v sessionView) integer(key string, def int) (int, error) {
	val, ok := v.get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadOption, key, val)
	}
	return n, nil
}

// seconds parses an integer second count into a duration.
func (v sessionView) seconds(key string, def time.Duration) (time.Duration, error) {
	val, ok := v.get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadOption, key, val)
	}
	return time.Duration(n) * time.Second, nil
}

// -------------------------------------------------------------------------
// Loading
// -------------------------------------------------------------------------

// LoadSessionSettings reads and resolves a settings file into session
// profiles. Any invalid option is fatal: the caller must refuse to
// start (ConfigError semantics).
func LoadSessionSettings(path string) ([]*SessionProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	defer f.Close()
	profiles, err := ParseSessionSettings(f)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return profiles, nil
}

// ParseSessionSettings parses and resolves settings from r.
func ParseSessionSettings(r io.Reader) ([]*SessionProfile, error) {
	raw, err := parseSettings(r)
	if err != nil {
		return nil, err
	}
	profiles := make([]*SessionProfile, 0, len(raw.sessions))
	for i, session := range raw.sessions {
		view := sessionView{raw: raw, session: session}
		p, err := buildProfile(view)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i+1, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// buildProfile resolves one session's options into a profile.
func buildProfile(v sessionView) (*SessionProfile, error) {
	p := &SessionProfile{}

	ct := ConnectionType(strings.ToLower(v.str("ConnectionType", "")))
	if ct != ConnectionInitiator && ct != ConnectionAcceptor {
		return nil, fmt.Errorf("%w: ConnectionType", ErrMissingOption)
	}
	p.ConnectionType = ct

	if err := buildIdentity(v, p); err != nil {
		return nil, err
	}
	if err := buildEndpoints(v, p); err != nil {
		return nil, err
	}
	if err := buildBehavior(v, p); err != nil {
		return nil, err
	}
	if err := buildSchedule(v, p); err != nil {
		return nil, err
	}
	if err := buildSocket(v, p); err != nil {
		return nil, err
	}
	if err := buildDictionaries(v, p); err != nil {
		return nil, err
	}
	return p, nil
}

// buildIdentity resolves the session id and role.
func buildIdentity(v sessionView, p *SessionProfile) error {
	id := fix.SessionID{
		BeginString:      v.str("BeginString", ""),
		SenderCompID:     v.str("SenderCompID", ""),
		SenderSubID:      v.str("SenderSubID", ""),
		SenderLocationID: v.str("SenderLocationID", ""),
		TargetCompID:     v.str("TargetCompID", ""),
		TargetSubID:      v.str("TargetSubID", ""),
		TargetLocationID: v.str("TargetLocationID", ""),
		Qualifier:        v.str("SessionQualifier", ""),
	}
	if id.BeginString == "" || id.SenderCompID == "" || id.TargetCompID == "" {
		return fmt.Errorf("%w: BeginString, SenderCompID, TargetCompID", ErrMissingOption)
	}
	if !fix.ValidBeginString(id.BeginString) {
		return fmt.Errorf("%w: BeginString=%q", ErrBadOption, id.BeginString)
	}
	p.Session.ID = id
	if p.ConnectionType == ConnectionInitiator {
		p.Session.Role = fix.RoleInitiator
	} else {
		p.Session.Role = fix.RoleAcceptor
	}
	p.Session.DefaultApplVerID = v.str("DefaultApplVerID", "")
	return nil
}

// buildEndpoints resolves the connect or accept address.
func buildEndpoints(v sessionView, p *SessionProfile) error {
	switch p.ConnectionType {
	case ConnectionInitiator:
		host := v.str("SocketConnectHost", "")
		port := v.str("SocketConnectPort", "")
		if host == "" || port == "" {
			return fmt.Errorf("%w: SocketConnectHost/SocketConnectPort", ErrMissingOption)
		}
		p.ConnectAddr = net.JoinHostPort(host, port)
		ri, err := v.seconds("ReconnectInterval", DefaultReconnectInterval)
		if err != nil {
			return err
		}
		p.ReconnectInterval = ri
	case ConnectionAcceptor:
		port := v.str("SocketAcceptPort", "")
		if port == "" {
			return fmt.Errorf("%w: SocketAcceptPort", ErrMissingOption)
		}
		p.AcceptAddr = net.JoinHostPort(v.str("SocketAcceptHost", ""), port)
	}
	return nil
}

// buildBehavior resolves the engine behavior knobs.
func buildBehavior(v sessionView, p *SessionProfile) error {
	c := &p.Session
	var err error

	if c.HeartBtInt, err = v.seconds("HeartBtInt", fix.DefaultHeartBtInt); err != nil {
		return err
	}
	if c.LogonTimeout, err = v.seconds("LogonTimeout", fix.DefaultLogonTimeout); err != nil {
		return err
	}
	if c.LogoutTimeout, err = v.seconds("LogoutTimeout", fix.DefaultLogoutTimeout); err != nil {
		return err
	}
	if c.CheckLatency, err = v.boolean("CheckLatency", true); err != nil {
		return err
	}
	if c.MaxLatency, err = v.seconds("MaxLatency", fix.DefaultMaxLatency); err != nil {
		return err
	}
	if c.ResetOnLogon, err = v.boolean("ResetOnLogon", false); err != nil {
		return err
	}
	if c.ResetOnLogout, err = v.boolean("ResetOnLogout", false); err != nil {
		return err
	}
	if c.ResetOnDisconnect, err = v.boolean("ResetOnDisconnect", false); err != nil {
		return err
	}
	if c.RefreshOnLogon, err = v.boolean("RefreshOnLogon", false); err != nil {
		return err
	}
	if c.PersistMessages, err = v.boolean("PersistMessages", true); err != nil {
		return err
	}
	if c.MaxMessagesInResendRequest, err = v.integer("MaxMessagesInResendRequest", 0); err != nil {
		return err
	}
	if c.SendRedundantResendRequests, err = v.boolean("SendRedundantResendRequests", false); err != nil {
		return err
	}
	if c.SendLogoutBeforeDisconnectFromTimeout, err = v.boolean("SendLogoutBeforeDisconnectFromTimeout", false); err != nil {
		return err
	}
	if c.IgnorePossDupResendRequests, err = v.boolean("IgnorePossDupResendRequests", false); err != nil {
		return err
	}
	if c.RequiresOrigSendingTime, err = v.boolean("RequiresOrigSendingTime", true); err != nil {
		return err
	}
	if c.ResendSessionLevelRejects, err = v.boolean("ResendSessionLevelRejects", false); err != nil {
		return err
	}
	if c.EnableLastMsgSeqNumProcessed, err = v.boolean("EnableLastMsgSeqNumProcessed", false); err != nil {
		return err
	}
	if c.ValidateLengthAndChecksum, err = v.boolean("ValidateLengthAndChecksum", true); err != nil {
		return err
	}

	vs := fix.DefaultValidationSettings()
	if vs.CheckFieldsOutOfOrder, err = v.boolean("ValidateFieldsOutOfOrder", true); err != nil {
		return err
	}
	if vs.CheckFieldsHaveValues, err = v.boolean("ValidateFieldsHaveValues", true); err != nil {
		return err
	}
	if vs.CheckUserDefinedFields, err = v.boolean("ValidateUserDefinedFields", true); err != nil {
		return err
	}
	if vs.AllowUnknownMessageFields, err = v.boolean("AllowUnknownMsgFields", false); err != nil {
		return err
	}
	c.Validation = vs

	return buildTimestampPrecision(v, c)
}

// buildTimestampPrecision maps MillisecondsInTimeStamp and
// TimeStampPrecision onto the engine's precision enum. The explicit
// precision option wins over the legacy boolean.
func buildTimestampPrecision(v sessionView, c *fix.SessionConfig) error {
	millis, err := v.boolean("MillisecondsInTimeStamp", true)
	if err != nil {
		return err
	}
	if millis {
		c.TimestampPrecision = fix.PrecisionMillis
	} else {
		c.TimestampPrecision = fix.PrecisionSeconds
	}

	if val, ok := v.get("TimeStampPrecision"); ok {
		switch strings.ToUpper(val) {
		case "SECONDS", "SECOND":
			c.TimestampPrecision = fix.PrecisionSeconds
		case "MILLISECONDS", "MILLISECOND":
			c.TimestampPrecision = fix.PrecisionMillis
		case "MICROSECONDS", "MICROSECOND":
			c.TimestampPrecision = fix.PrecisionMicros
		default:
			return fmt.Errorf("%w: TimeStampPrecision=%q", ErrBadOption, val)
		}
	}
	return nil
}

// buildSchedule resolves the session activity window.
func buildSchedule(v sessionView, p *SessionProfile) error {
	nonStop, err := v.boolean("NonStopSession", false)
	if err != nil {
		return err
	}
	startStr, haveStart := v.get("StartTime")
	endStr, haveEnd := v.get("EndTime")
	if nonStop || (!haveStart && !haveEnd) {
		p.Session.Schedule = fix.NonStopSchedule{}
		return nil
	}
	if !haveStart || !haveEnd {
		return fmt.Errorf("%w: StartTime and EndTime", ErrMissingOption)
	}

	start, err := parseTimeOfDay(startStr)
	if err != nil {
		return err
	}
	end, err := parseTimeOfDay(endStr)
	if err != nil {
		return err
	}

	loc, err := scheduleLocation(v)
	if err != nil {
		return err
	}

	startDayStr, haveStartDay := v.get("StartDay")
	endDayStr, haveEndDay := v.get("EndDay")
	if !haveStartDay && !haveEndDay {
		p.Session.Schedule = &fix.DailySchedule{StartTime: start, EndTime: end, Location: loc}
		return nil
	}
	if !haveStartDay || !haveEndDay {
		return fmt.Errorf("%w: StartDay and EndDay", ErrMissingOption)
	}
	startDay, err := parseWeekday(startDayStr)
	if err != nil {
		return err
	}
	endDay, err := parseWeekday(endDayStr)
	if err != nil {
		return err
	}
	p.Session.Schedule = &fix.WeeklySchedule{
		StartDay:  startDay,
		EndDay:    endDay,
		StartTime: start,
		EndTime:   end,
		Location:  loc,
	}
	return nil
}

// scheduleLocation resolves TimeZone / UseLocalTime.
func scheduleLocation(v sessionView) (*time.Location, error) {
	local, err := v.boolean("UseLocalTime", false)
	if err != nil {
		return nil, err
	}
	if local {
		return time.Local, nil
	}
	tz, ok := v.get("TimeZone")
	if !ok || tz == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: TimeZone=%q", ErrBadOption, tz)
	}
	return loc, nil
}

// parseTimeOfDay parses "HH:MM:SS".
func parseTimeOfDay(s string) (fix.TimeOfDay, error) {
	var t fix.TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &t.Second); err != nil {
		return t, fmt.Errorf("%w: time %q", ErrBadOption, s)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return t, fmt.Errorf("%w: time %q", ErrBadOption, s)
	}
	return t, nil
}

// weekdays maps settings-file day names (and 3-letter forms) onto
// time.Weekday.
var weekdays = map[string]time.Weekday{
	"MONDAY": time.Monday, "MON": time.Monday,
	"TUESDAY": time.Tuesday, "TUE": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "WED": time.Wednesday,
	"THURSDAY": time.Thursday, "THU": time.Thursday,
	"FRIDAY": time.Friday, "FRI": time.Friday,
	"SATURDAY": time.Saturday, "SAT": time.Saturday,
	"SUNDAY": time.Sunday, "SUN": time.Sunday,
}

// parseWeekday parses a day name.
func parseWeekday(s string) (time.Weekday, error) {
	if d, ok := weekdays[strings.ToUpper(s)]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: day %q", ErrBadOption, s)
}

// buildSocket resolves transport tuning and TLS.
func buildSocket(v sessionView, p *SessionProfile) error {
	var err error
	ss := netio.SocketSettings{}
	if ss.Nodelay, err = v.boolean("SocketNodelay", true); err != nil {
		return err
	}
	if ss.SendTimeout, err = v.seconds("SocketSendTimeout", 0); err != nil {
		return err
	}
	if ss.ReceiveTimeout, err = v.seconds("SocketReceiveTimeout", 0); err != nil {
		return err
	}

	sslEnable, err := v.boolean("SSLEnable", false)
	if err != nil {
		return err
	}
	if sslEnable {
		tlsSettings := &netio.TLSSettings{
			CertificateFile: v.str("SSLCertificate", ""),
			CAFile:          v.str("SSLCACertificate", ""),
			ServerName:      v.str("SSLServerName", ""),
		}
		if tlsSettings.RequireClientCertificate, err = v.boolean("SSLRequireClientCertificate", false); err != nil {
			return err
		}
		ss.TLS = tlsSettings
	}
	p.Socket = ss
	return nil
}

// buildDictionaries resolves the dictionary file paths.
func buildDictionaries(v sessionView, p *SessionProfile) error {
	use, err := v.boolean("UseDataDictionary", true)
	if err != nil {
		return err
	}
	p.UseDataDictionary = use
	p.DataDictionaryPath = v.str("DataDictionary", "")
	p.TransportDictionaryPath = v.str("TransportDataDictionary", "")
	p.AppDictionaryPath = v.str("AppDataDictionary", "")
	return nil
}
