package protocol

import (
	"errors"

	json "github.com/goccy/go-json"
)

var (
	ErrTrailingBytes = errors.New("mcnet: trailing bytes after packet")
	ErrUnknownIntent = errors.New("mcnet: unknown handshake next state")
)

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type StatusPlayer struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusPlayer `json:"sample,omitempty"`
}

type StatusDescription struct {
	Text string `json:"text"`
}

// StatusDocument server list ping response body
type StatusDocument struct {
	Version            StatusVersion     `json:"version"`
	Players            StatusPlayers     `json:"players"`
	Description        StatusDescription `json:"description"`
	Favicon            string            `json:"favicon,omitempty"`
	EnforcesSecureChat bool              `json:"enforcesSecureChat"`
}

func NewStatusDocument(motd string, online, max int) *StatusDocument {
	return &StatusDocument{
		Version:     StatusVersion{Name: VersionName, Protocol: ProtocolVersion},
		Players:     StatusPlayers{Max: max, Online: online},
		Description: StatusDescription{Text: motd},
	}
}

func (d *StatusDocument) Marshal() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseStatusDocument(s string) (*StatusDocument, error) {
	var d StatusDocument
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TextComponent plain text chat component
func TextComponent(text string) string {
	b, err := json.Marshal(StatusDescription{Text: text})
	if err != nil {
		return `{"text":""}`
	}
	return string(b)
}
