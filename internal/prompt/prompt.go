// Package prompt asks for credentials and search parameters on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/tracyhatemice/mailcode/internal/receiver"
)

// Filter choices offered by the search form.
const (
	FilterSender    = "sender"
	FilterSubject   = "subject"
	FilterRecipient = "recipient"
	FilterContent   = "content"
)

// Credentials asks for whichever of address and password is empty.
func Credentials(address, password *string) error {
	var fields []huh.Field
	if *address == "" {
		fields = append(fields, huh.NewInput().
			Title("Email address").
			Placeholder("user@example.com").
			Value(address).
			Validate(validateRequired("Email address")))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			Description("Mailbox password or app password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(validateRequired("Password")))
	}
	if len(fields) == 0 {
		return nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("credentials prompt: %w", err)
	}
	*address = strings.TrimSpace(*address)
	*password = strings.TrimSpace(*password)
	return nil
}

// SearchState holds the raw answers of the search form.
type SearchState struct {
	Filters   []string
	Sender    string
	Subject   string
	Recipient string
	Content   string
	Hours     string
}

// NewSearchState pre-fills the form from defaults.
func NewSearchState(defaults receiver.Criteria) *SearchState {
	s := &SearchState{
		Sender:    defaults.Sender,
		Subject:   defaults.Subject,
		Recipient: defaults.Recipient,
		Content:   defaults.Content,
	}
	if defaults.Window > 0 {
		s.Hours = strconv.Itoa(int(defaults.Window / time.Hour))
	}
	for _, f := range []struct{ name, value string }{
		{FilterSender, s.Sender},
		{FilterSubject, s.Subject},
		{FilterRecipient, s.Recipient},
		{FilterContent, s.Content},
	} {
		if f.value != "" {
			s.Filters = append(s.Filters, f.name)
		}
	}
	return s
}

// Criteria converts the answers. Filters that were not chosen are dropped
// even if a value was typed; an empty hour count means 24.
func (s *SearchState) Criteria() (receiver.Criteria, error) {
	hours := 24
	if h := strings.TrimSpace(s.Hours); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 {
			return receiver.Criteria{}, fmt.Errorf("hours must be a positive number, got %q", h)
		}
		hours = n
	}

	pick := func(name, v string) string {
		if !slices.Contains(s.Filters, name) {
			return ""
		}
		return strings.TrimSpace(v)
	}

	return receiver.Criteria{
		Window:    time.Duration(hours) * time.Hour,
		Sender:    pick(FilterSender, s.Sender),
		Subject:   pick(FilterSubject, s.Subject),
		Recipient: pick(FilterRecipient, s.Recipient),
		Content:   pick(FilterContent, s.Content),
	}, nil
}

// Search runs the search form and returns the chosen criteria.
func Search(defaults receiver.Criteria) (receiver.Criteria, error) {
	s := NewSearchState(defaults)
	if err := searchForm(s).Run(); err != nil {
		return receiver.Criteria{}, fmt.Errorf("search prompt: %w", err)
	}
	return s.Criteria()
}

func searchForm(s *SearchState) *huh.Form {
	hidden := func(name string) func() bool {
		return func() bool { return !slices.Contains(s.Filters, name) }
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Search filters").
				Description("Leave empty to match every message in the time window").
				Options(
					huh.NewOption("Sender", FilterSender),
					huh.NewOption("Subject keyword", FilterSubject),
					huh.NewOption("Recipient", FilterRecipient),
					huh.NewOption("Content keyword", FilterContent),
				).
				Value(&s.Filters),
		),
		huh.NewGroup(
			huh.NewInput().Title("Sender address").Value(&s.Sender).Validate(validateRequired("Sender")),
		).WithHideFunc(hidden(FilterSender)),
		huh.NewGroup(
			huh.NewInput().Title("Subject keyword").Value(&s.Subject).Validate(validateRequired("Subject")),
		).WithHideFunc(hidden(FilterSubject)),
		huh.NewGroup(
			huh.NewInput().Title("Recipient address").Value(&s.Recipient).Validate(validateRequired("Recipient")),
		).WithHideFunc(hidden(FilterRecipient)),
		huh.NewGroup(
			huh.NewInput().Title("Content keyword").Value(&s.Content),
		).WithHideFunc(hidden(FilterContent)),
		huh.NewGroup(
			huh.NewInput().
				Title("Time window (hours)").
				Placeholder("24").
				Value(&s.Hours).
				Validate(validateHours),
		),
	)
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validateHours(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errors.New("enter a positive number of hours")
	}
	return nil
}
