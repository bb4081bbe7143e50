package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Course is one catalog search result. A course owns its sections; a
// section is never usable on its own.
type Course struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Department string    `json:"department"`
	Number     string    `json:"number"`
	Units      string    `json:"units"`
	Sections   []Section `json:"sections"`
}

// Section is one scheduled offering of a course.
type Section struct {
	Code        string   `json:"code"`
	Type        string   `json:"type"`
	Instructors []string `json:"instructors"`
	Meetings    string   `json:"meetings"`
	Location    string   `json:"location"`
	Status      string   `json:"status"`
	Enrolled    string   `json:"enrolled"`
}

// SearchQuery narrows a catalog search. Year and Quarter are mandatory;
// at least one other filter must be set, which the command layer enforces
// before a request is issued.
type SearchQuery struct {
	Year         string
	Quarter      string
	Department   string
	GE           string
	CourseNumber string
	Instructor   string
}

type searchResponse struct {
	Courses []Course `json:"courses"`
}

// ClientOption mutates catalog client configuration.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// Client is a typed client for the course catalog REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a catalog client for the given API base URL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, option := range options {
		option(client)
	}

	return client
}

// Search queries the schedule-of-classes endpoint and decodes the result.
//
// Decoding fails closed: unknown payload fields and results missing their
// identity fields are errors, never silently accepted.
func (c *Client) Search(ctx context.Context, query SearchQuery) ([]Course, error) {
	endpoint, err := url.Parse(c.baseURL + "/courses/search")
	if err != nil {
		return nil, fmt.Errorf("catalog search url: %w", err)
	}

	values := endpoint.Query()
	values.Set("year", query.Year)
	values.Set("quarter", query.Quarter)
	if query.Department != "" {
		values.Set("department", query.Department)
	}
	if query.GE != "" {
		values.Set("ge", query.GE)
	}
	if query.CourseNumber != "" {
		values.Set("courseNumber", query.CourseNumber)
	}
	if query.Instructor != "" {
		values.Set("instructorName", query.Instructor)
	}
	endpoint.RawQuery = values.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog search request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog search: unexpected status %d", response.StatusCode)
	}

	decoder := json.NewDecoder(response.Body)
	decoder.DisallowUnknownFields()
	var decoded searchResponse
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("catalog search decode: %w", err)
	}

	for index, course := range decoded.Courses {
		if course.ID == "" || course.Title == "" {
			return nil, fmt.Errorf("catalog search decode: course %d missing identity fields", index)
		}
	}

	return decoded.Courses, nil
}
