package pco

import (
	"context"
	"net/url"
	"strconv"
)

// DefaultPeopleInclude is the side-load set requested for person lookups.
const DefaultPeopleInclude = "emails,phone_numbers"

// Person is the flattened projection of a People resource with its emails and
// phone numbers denormalized from the included side-loads.
type Person struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Emails    []string `json:"emails"`
	Phones    []string `json:"phones"`
}

// FindPeople searches People by full or partial name. extra carries
// allow-listed sparse-fieldset parameters straight through to the upstream.
func (c *Client) FindPeople(ctx context.Context, name string, pageSize int, extra url.Values) ([]Person, error) {
	query := url.Values{
		"where[name]": {name},
		"include":     {DefaultPeopleInclude},
		"page[size]":  {strconv.Itoa(pageSize)},
	}
	for key, values := range extra {
		query[key] = values
	}

	doc, err := c.GetDocument(ctx, "/people/v2/people", query)
	if err != nil {
		return nil, err
	}

	return FlattenPeople(doc)
}

// FlattenPeople denormalizes a People response into Person projections.
func FlattenPeople(doc *Document) ([]Person, error) {
	resources, err := doc.Resources()
	if err != nil {
		return nil, err
	}

	idx := BuildIncludedIndex(doc.Included)

	people := make([]Person, 0, len(resources))
	for _, res := range resources {
		people = append(people, Person{
			ID:        res.ID,
			Name:      attrString(res, "name"),
			FirstName: attrString(res, "first_name"),
			LastName:  attrString(res, "last_name"),
			Emails:    collectAttrStrings(CollectRelated(res, idx, "emails"), "address"),
			Phones:    collectAttrStrings(CollectRelated(res, idx, "phone_numbers"), "number"),
		})
	}
	return people, nil
}
