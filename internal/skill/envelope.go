package skill

// Request types delivered by the voice platform.
const (
	RequestLaunch       = "LaunchRequest"
	RequestIntent       = "IntentRequest"
	RequestSessionEnded = "SessionEndedRequest"
)

// Intent names handled by the skill.
const (
	IntentAddNewTask   = "AddNewTaskIntent"
	IntentGetToDoCount = "GetToDoCountIntent"
	IntentGetToDoList  = "GetToDoListIntent"
	IntentHelp         = "AMAZON.HelpIntent"
	IntentCancel       = "AMAZON.CancelIntent"
	IntentStop         = "AMAZON.StopIntent"
)

// SlotTaskName carries the free-text title of a new task.
const SlotTaskName = "taskName"

// RequestEnvelope is the JSON body the voice platform posts for each turn.
type RequestEnvelope struct {
	Version string   `json:"version"`
	Session *Session `json:"session,omitempty"`
	Context *Context `json:"context,omitempty"`
	Request Request  `json:"request"`
}

// Session describes the conversation the request belongs to.
type Session struct {
	New       bool   `json:"new"`
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

// Context carries device and user state sent with every request.
type Context struct {
	System System `json:"System"`
}

// System is the platform state within Context.
type System struct {
	User User `json:"user"`
}

// User identifies the platform user. AccessToken is present only once the
// user has linked their Jira account.
type User struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Request is the recognized user action.
type Request struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId"`
	Timestamp string  `json:"timestamp"`
	Locale    string  `json:"locale"`
	Intent    *Intent `json:"intent,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Intent is a recognized intent with its slot values.
type Intent struct {
	Name  string          `json:"name"`
	Slots map[string]Slot `json:"slots,omitempty"`
}

// Slot is a single named intent parameter.
type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// AccessToken returns the linked-account token from the session, falling
// back to the context, or "" when the account is not linked.
func (e RequestEnvelope) AccessToken() string {
	if e.Session != nil && e.Session.User.AccessToken != "" {
		return e.Session.User.AccessToken
	}
	if e.Context != nil {
		return e.Context.System.User.AccessToken
	}
	return ""
}

// IntentName returns the intent name, or "" for non-intent requests.
func (e RequestEnvelope) IntentName() string {
	if e.Request.Intent == nil {
		return ""
	}
	return e.Request.Intent.Name
}

// SlotValue returns the value of the named slot, or "".
func (e RequestEnvelope) SlotValue(name string) string {
	if e.Request.Intent == nil {
		return ""
	}
	return e.Request.Intent.Slots[name].Value
}

// ResponseEnvelope is the JSON body returned to the voice platform.
type ResponseEnvelope struct {
	Version  string   `json:"version"`
	Response Response `json:"response"`
}

// Response is what the device says and whether the session stays open.
type Response struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	Reprompt         *Reprompt     `json:"reprompt,omitempty"`
	Card             *Card         `json:"card,omitempty"`
	ShouldEndSession *bool         `json:"shouldEndSession,omitempty"`
}

// OutputSpeech is plain-text speech.
type OutputSpeech struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reprompt is spoken when the user does not answer.
type Reprompt struct {
	OutputSpeech OutputSpeech `json:"outputSpeech"`
}

// Card is shown in the companion app. A LinkAccount card starts account
// linking.
type Card struct {
	Type string `json:"type"`
}

// Speech returns the spoken text of the response, or "".
func (r ResponseEnvelope) Speech() string {
	if r.Response.OutputSpeech == nil {
		return ""
	}
	return r.Response.OutputSpeech.Text
}
