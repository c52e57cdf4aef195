package docker

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/tidwall/gjson"
)

// maxLineSize bounds one JSON line from the docker CLI.
const maxLineSize = 1 << 20

// Parser reads 'docker ps', 'docker stats' and 'docker inspect' JSON output.
// Every line is parsed on its own; a malformed line is logged and skipped.
type Parser struct {
	log logger.Logger
}

// NewParser creates a parser that reports skipped lines to log.
func NewParser(log logger.Logger) *Parser {
	return &Parser{log: logger.OrNoop(log)}
}

// eachObject calls fn for every line of raw that is a JSON object.
func (p *Parser) eachObject(raw, host, what string, fn func(gjson.Result)) {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			p.log.Warn("skipping malformed %s line %d from %s: %.100s", what, lineNo, host, line)
			continue
		}
		r := gjson.Parse(line)
		if !r.IsObject() {
			p.log.Warn("skipping %s line %d from %s: not a JSON object", what, lineNo, host)
			continue
		}
		fn(r)
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("stopped reading %s output from %s after line %d: %v", what, host, lineNo, err)
	}
}

// first returns the first of keys present in r.
func first(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// ParseInventory parses 'docker ps --format "{{json .}}"' output, one
// container per line.
func (p *Parser) ParseInventory(raw, host string) []ContainerRecord {
	containers := []ContainerRecord{}

	p.eachObject(raw, host, "docker ps", func(r gjson.Result) {
		containers = append(containers, ContainerRecord{
			ID:      first(r, "ID", "Id"),
			Name:    first(r, "Names", "Name"),
			Image:   first(r, "Image"),
			Status:  first(r, "Status"),
			State:   NormalizeState(first(r, "State")),
			Created: first(r, "CreatedAt", "Created"),
			Ports:   first(r, "Ports"),
			Command: strings.Trim(first(r, "Command"), `"`),
			Host:    host,
		})
	})

	p.log.Debug("parsed %d containers from %s", len(containers), host)
	return containers
}

// ParseUsage parses 'docker stats --no-stream --format "{{json .}}"'
// output into samples keyed by container name, or by ID when the line has
// no name.
func (p *Parser) ParseUsage(raw, host string) map[string]Usage {
	usage := make(map[string]Usage)

	p.eachObject(raw, host, "docker stats", func(r gjson.Result) {
		id := first(r, "Container", "ID")
		name := first(r, "Name")
		if name == "" {
			name = id
		}
		if name == "" {
			p.log.Warn("skipping docker stats line from %s with neither name nor ID", host)
			return
		}

		usage[name] = Usage{
			ID:            id,
			Name:          name,
			CPUPercent:    ParsePercent(first(r, "CPUPerc")),
			MemoryUsage:   first(r, "MemUsage"),
			MemoryPercent: ParsePercent(first(r, "MemPerc")),
			NetIO:         first(r, "NetIO"),
			BlockIO:       first(r, "BlockIO"),
			PIDs:          first(r, "PIDs"),
		}
	})

	p.log.Debug("parsed usage for %d containers from %s", len(usage), host)
	return usage
}

// ParsePercent turns "45.67%" into 45.67. Anything unparsable, including
// an empty string or Docker's "--" placeholder, is nil rather than zero.
func ParsePercent(s string) *float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Merge attaches usage to inventory, matching each container by name and
// then by ID. Containers without a sample keep empty usage fields. The
// input slice is not modified.
func Merge(inventory []ContainerRecord, usage map[string]Usage) []ContainerRecord {
	byID := make(map[string]Usage, len(usage))
	for _, u := range usage {
		if u.ID != "" {
			byID[u.ID] = u
			byID[ShortID(u.ID)] = u
		}
	}

	merged := make([]ContainerRecord, len(inventory))
	for i, c := range inventory {
		u, ok := usage[c.Name]
		if !ok {
			u, ok = byID[c.ID]
		}
		if !ok {
			u, ok = byID[ShortID(c.ID)]
		}
		if ok {
			c.CPUPercent = u.CPUPercent
			c.MemoryUsage = u.MemoryUsage
			c.MemoryPercent = u.MemoryPercent
			c.NetIO = u.NetIO
			c.BlockIO = u.BlockIO
			c.PIDs = u.PIDs
		}
		merged[i] = c
	}
	return merged
}

// Details is the subset of 'docker inspect' shown to users, plus the raw
// document.
type Details struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Image        string          `json:"image"`
	Status       string          `json:"status"`
	StartedAt    string          `json:"started_at,omitempty"`
	RestartCount int64           `json:"restart_count"`
	IPAddresses  []string        `json:"ip_addresses,omitempty"`
	Mounts       []string        `json:"mounts,omitempty"`
	Raw          json.RawMessage `json:"raw"`
}

// ParseInspect reads 'docker inspect' output, which may be a single object
// or an array holding one. The bool is false when there is nothing usable.
func ParseInspect(raw string) (*Details, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil, false
	}

	doc := gjson.Parse(raw)
	if doc.IsArray() {
		items := doc.Array()
		if len(items) == 0 {
			return nil, false
		}
		doc = items[0]
	}
	if !doc.IsObject() {
		return nil, false
	}

	d := &Details{
		ID:           first(doc, "Id", "ID"),
		Name:         strings.TrimPrefix(doc.Get("Name").String(), "/"),
		Image:        first(doc, "Config.Image", "Image"),
		Status:       doc.Get("State.Status").String(),
		StartedAt:    doc.Get("State.StartedAt").String(),
		RestartCount: doc.Get("RestartCount").Int(),
		Raw:          json.RawMessage(doc.Raw),
	}

	doc.Get("NetworkSettings.Networks").ForEach(func(_, network gjson.Result) bool {
		if ip := network.Get("IPAddress").String(); ip != "" {
			d.IPAddresses = append(d.IPAddresses, ip)
		}
		return true
	})
	for _, m := range doc.Get("Mounts").Array() {
		src, dst := m.Get("Source").String(), m.Get("Destination").String()
		if src == "" {
			src = m.Get("Name").String()
		}
		d.Mounts = append(d.Mounts, src+":"+dst)
	}

	return d, true
}
