package beamtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xpdacq/xpdacq/pkg/xpd"
	"gopkg.in/yaml.v3"
)

// SessionFile is the name of the session metadata file in the base directory.
const SessionFile = "beamtime.yml"

// Session is the metadata entered at the start of a beamtime.
type Session struct {
	SAF           string    `yaml:"saf"`
	PI            string    `yaml:"pi"`
	Experimenters []string  `yaml:"experimenters"`
	StartedAt     time.Time `yaml:"started_at"`
}

// SessionPath returns where the session file lives for c.
func SessionPath(c *Config) string {
	return filepath.Join(c.BaseDir, SessionFile)
}

// LoadSession reads the session file. A missing file yields (nil, nil).
func LoadSession(c *Config) (*Session, error) {
	bs, err := os.ReadFile(SessionPath(c))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	s := &Session{}
	if err := yaml.Unmarshal(bs, s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", SessionPath(c), err)
	}
	return s, nil
}

// SaveSession writes the session file.
func SaveSession(c *Config, s *Session) error {
	bs, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(SessionPath(c), bs, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return xpd.VerifyWritten(SessionPath(c))
}

// PromptSession asks the operator for the session metadata.
func PromptSession(p Prompter, now time.Time) (*Session, error) {
	saf, err := p.Ask("SAF number of this beamtime: ")
	if err != nil {
		return nil, err
	}
	pi, err := p.Ask("Principal Investigator (PI) name: ")
	if err != nil {
		return nil, err
	}
	others, err := p.Ask("Other experimenter names separated by commas: ")
	if err != nil {
		return nil, err
	}

	s := &Session{SAF: strings.TrimSpace(saf), PI: strings.TrimSpace(pi), StartedAt: now}
	if s.PI != "" {
		s.Experimenters = append(s.Experimenters, s.PI)
	}
	for _, n := range strings.Split(others, ",") {
		n = strings.TrimSpace(n)
		if n == "" || n == s.PI {
			continue
		}
		s.Experimenters = append(s.Experimenters, n)
	}
	return s, nil
}

// Apply fills metadata fields left empty by the acquisition side.
func (s *Session) Apply(m *xpd.RunMetadata) {
	if s == nil {
		return
	}
	if m.SAF == "" {
		m.SAF = s.SAF
	}
	if m.PI == "" {
		m.PI = s.PI
	}
	if len(m.Experimenters) == 0 {
		m.Experimenters = append([]string(nil), s.Experimenters...)
	}
}
