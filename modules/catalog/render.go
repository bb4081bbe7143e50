package catalog

import (
	"fmt"
	"strings"
)

// renderCoursePages renders one page per course. The truncated flag adds a
// note on the last page when the search matched more than fits.
func renderCoursePages(courses []Course, truncated bool) []string {
	pages := make([]string, 0, len(courses))
	for _, course := range courses {
		pages = append(pages, renderCourse(course))
	}
	if truncated && len(pages) > 0 {
		pages[len(pages)-1] += "\n\nMore courses matched; narrow the search to see them."
	}

	return pages
}

func renderCourse(course Course) string {
	var page strings.Builder
	page.WriteString(fmt.Sprintf("%s %s · %s", course.Department, course.Number, course.Title))
	if course.Units != "" {
		page.WriteString(fmt.Sprintf(" (%s units)", course.Units))
	}

	for _, section := range course.Sections {
		page.WriteString("\n")
		page.WriteString(renderSection(section))
	}

	return page.String()
}

func renderSection(section Section) string {
	fields := []string{section.Code, section.Type}
	if len(section.Instructors) > 0 {
		fields = append(fields, strings.Join(section.Instructors, ", "))
	}
	if section.Meetings != "" {
		fields = append(fields, section.Meetings)
	}
	if section.Location != "" {
		fields = append(fields, section.Location)
	}
	if section.Status != "" {
		fields = append(fields, section.Status)
	}
	if section.Enrolled != "" {
		fields = append(fields, "enrolled "+section.Enrolled)
	}

	return strings.Join(fields, " · ")
}
