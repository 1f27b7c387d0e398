package httpapi

import (
	"encoding/xml"
	"fmt"
)

// TwiML response structure for <Connect><Stream>. Twilio parses the exact
// element names; the Go field names are ours.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStreamTwiML renders the webhook response that connects an inbound
// call to the media-stream websocket for callSid. The caller's number rides
// along as a custom stream parameter.
func ConnectStreamTwiML(host, callSid, from string) ([]byte, error) {
	resp := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: fmt.Sprintf("wss://%s/ws/twilio/%s", host, callSid),
			},
		},
	}
	if from != "" {
		resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters, twimlParameter{
			Name:  "from_number",
			Value: from,
		})
	}

	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("httpapi: marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
