package visitor

import "github.com/muliwe/botmon/internal/logrecord"

// Captcha counts the CAPTCHA outcomes observed for a visitor
type Captcha struct {
	X int `json:"X"`
	Y int `json:"Y"`
	N int `json:"N"`
	W int `json:"W"`
	H int `json:"H"`
}

// Add increments the counter for an outcome code. Unknown codes are ignored.
func (c *Captcha) Add(code string) {
	switch code {
	case logrecord.CaptchaNone:
		c.X++
	case logrecord.CaptchaBlocked:
		c.Y++
	case logrecord.CaptchaPassed:
		c.N++
	case logrecord.CaptchaWhitelisted:
		c.W++
	case logrecord.CaptchaHead:
		c.H++
	}
}

// String lists the observed codes in X, Y, N, W, H order
func (c Captcha) String() string {
	s := ""
	if c.X > 0 {
		s += "X"
	}
	if c.Y > 0 {
		s += "Y"
	}
	if c.N > 0 {
		s += "N"
	}
	if c.W > 0 {
		s += "W"
	}
	if c.H > 0 {
		s += "H"
	}
	return s
}

// Title returns a human readable summary of the outcomes
func (c Captcha) Title() string {
	s := c.String()
	switch s {
	case "Y", "NY":
		return "Blocked."
	case "YN":
		return "Solved"
	case "W":
		return "Whitelisted"
	case "H":
		return "HEAD request, no captcha"
	default:
		return "Undefined: " + s
	}
}
