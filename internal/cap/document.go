// Package cap converts flood features into OASIS Common Alerting Protocol 1.2
// alerts and wraps them in ATOM feeds for downstream alerting consumers.
//
// Features are GeoJSON features whose properties carry a flood state,
// a last_updated wall-clock time and the area's names. Each feature becomes
// at most one alert; features that cannot be converted are reported and skipped.
package cap

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Namespaces of the two document types produced by this package.
const (
	CAPNamespace  = "urn:oasis:names:tc:emergency:cap:1.2"
	AtomNamespace = "http://www.w3.org/2005/Atom"
)

// Fixed CAP values for flood observations.
const (
	StatusActual     = "Actual"
	MsgTypeAlert     = "Alert"
	ScopePublic      = "Public"
	CategoryMet      = "Met"
	EventFlooding    = "FLOODING"
	UrgencyImmediate = "Immediate"
	CertaintyObs     = "Observed"
	HeadlineFlood    = "FLOOD WARNING"

	// ContentTypeXML marks ATOM entry content as inline XML.
	ContentTypeXML = "text/xml"
)

// Alert is the CAP "alert" element.
// Field order follows the CAP 1.2 schema sequence.
type Alert struct {
	XMLName    xml.Name `xml:"urn:oasis:names:tc:emergency:cap:1.2 alert"`
	Identifier string   `xml:"identifier"`
	Sender     string   `xml:"sender"`
	Sent       string   `xml:"sent"`
	Status     string   `xml:"status"`
	MsgType    string   `xml:"msgType"`
	Scope      string   `xml:"scope"`
	Info       Info     `xml:"info"`
}

// Info is the CAP "info" element.
type Info struct {
	Category    string `xml:"category"`
	Event       string `xml:"event"`
	Urgency     string `xml:"urgency"`
	Severity    string `xml:"severity"`
	Certainty   string `xml:"certainty"`
	SenderName  string `xml:"senderName"`
	Headline    string `xml:"headline"`
	Description string `xml:"description"`
	Web         string `xml:"web"`
	Area        Area   `xml:"area"`
}

// Area is the CAP "area" element.
// Each polygon is a whitespace-delimited list of "lat,lon" pairs.
type Area struct {
	AreaDesc string   `xml:"areaDesc"`
	Polygon  []string `xml:"polygon"`
}

// Feed is an ATOM feed whose entries embed CAP alerts.
type Feed struct {
	XMLName xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Updated string   `xml:"updated"`
	Author  Author   `xml:"author"`
	Entries []Entry  `xml:"entry"`
}

// Author is the ATOM feed author.
type Author struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

// Entry is one ATOM entry carrying a single alert.
type Entry struct {
	ID      string  `xml:"id"`
	Title   string  `xml:"title"`
	Updated string  `xml:"updated"`
	Content Content `xml:"content"`
}

// Content holds the alert inline; the element name and namespace come from Alert.XMLName.
type Content struct {
	Type  string `xml:"type,attr"`
	Alert *Alert
}

// Marshal renders a document (an *Alert or a *Feed) as XML text with a declaration.
func Marshal(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode xml: %w", err)
	}
	return buf.Bytes(), nil
}
