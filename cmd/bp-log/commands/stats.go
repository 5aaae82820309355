package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bpclient/bpclient-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Kinds             map[string]*KindStats
	Sessions          map[string]*SessionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// KindStats counts the messages of one envelope kind.
type KindStats struct {
	Requests int
	Replies  int
	Events   int

	// Latency totals over replies that carried one.
	latencyCount int
	latencySum   time.Duration
	LatencyMax   time.Duration
}

// AverageLatency returns the mean reply latency, 0 if none was recorded.
func (k *KindStats) AverageLatency() time.Duration {
	if k.latencyCount == 0 {
		return 0
	}
	return k.latencySum / time.Duration(k.latencyCount)
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	ServerName string
	RemoteAddr string
	FinalState string
}

// Collect reads the log file and aggregates its events.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Kinds:             make(map[string]*KindStats),
		Sessions:          make(map[string]*SessionStats),
	}

	for event, err := range reader.All() {
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.ConnectionID]
	if !ok {
		sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Sessions[event.ConnectionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.ServerName != "" {
		sess.ServerName = event.ServerName
	}
	if event.RemoteAddr != "" && sess.RemoteAddr == "" {
		sess.RemoteAddr = event.RemoteAddr
	}
	if event.StateChange != nil {
		sess.FinalState = event.StateChange.NewState
	}

	if m := event.Message; m != nil {
		k, ok := s.Kinds[m.Kind]
		if !ok {
			k = &KindStats{}
			s.Kinds[m.Kind] = k
		}
		switch m.Type {
		case log.MessageTypeRequest:
			k.Requests++
		case log.MessageTypeReply:
			k.Replies++
			if m.Latency != nil {
				k.latencyCount++
				k.latencySum += *m.Latency
				if *m.Latency > k.LatencyMax {
					k.LatencyMax = *m.Latency
				}
			}
		case log.MessageTypeEvent:
			k.Events++
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryKeepAlive, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Kinds) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Messages by Kind:")
		kinds := make([]string, 0, len(stats.Kinds))
		for k := range stats.Kinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, name := range kinds {
			k := stats.Kinds[name]
			fmt.Fprintf(w, "  %-24s req=%d reply=%d event=%d", name, k.Requests, k.Replies, k.Events)
			if k.latencyCount > 0 {
				fmt.Fprintf(w, " latency avg=%s max=%s",
					formatDuration(k.AverageLatency()), formatDuration(k.LatencyMax))
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(s.id), s.stats.Events, duration)
			if s.stats.ServerName != "" {
				fmt.Fprintf(w, "           Server: %s\n", s.stats.ServerName)
			}
			if s.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Address: %s\n", s.stats.RemoteAddr)
			}
			if s.stats.FinalState != "" {
				fmt.Fprintf(w, "           Final state: %s\n", s.stats.FinalState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
