// Package catalog loads queries, targets and grants from a YAML document.
//
//	queries:
//	  - name: daily-active-users
//	    statement: select count(*) from sessions where day = {{day}}
//	    owner: alice
//	targets:
//	  - name: eu-west
//	    external_id: inst-4821
//	    endpoint: https://eu.remote.example.com
//	    credential_ref: secret://env/EU_WEST_TOKEN
//	    owner: alice
//	grants:
//	  - principal: "*"
//	    query: daily-active-users
//	  - principal: bob
//	    target: eu-west
package catalog

import (
	"io"
	"strings"

	"github.com/caesium-cloud/fanout/internal/secret"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid catalog")

type Document struct {
	Queries []Query  `json:"queries" yaml:"queries"`
	Targets []Target `json:"targets" yaml:"targets"`
	Grants  []Grant  `json:"grants" yaml:"grants"`
}

type Query struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name" yaml:"name"`
	Statement string `json:"statement" yaml:"statement"`
	Owner     string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

type Target struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string `json:"name" yaml:"name"`
	ExternalID    string `json:"external_id" yaml:"external_id"`
	Endpoint      string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
	Owner         string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// Grant names exactly one of Query or Target by name.
type Grant struct {
	Principal string `json:"principal" yaml:"principal"`
	Query     string `json:"query,omitempty" yaml:"query,omitempty"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Parse decodes a catalog document, rejecting unknown fields.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &doc, doc.Validate()
}

// Validate checks the document on its own, without storage.
func (d *Document) Validate() error {
	queries := map[string]bool{}
	for i, q := range d.Queries {
		name := strings.TrimSpace(q.Name)
		if name == "" {
			return errors.Wrapf(ErrInvalid, "queries[%d]: name is required", i)
		}
		if queries[name] {
			return errors.Wrapf(ErrInvalid, "query %q defined twice", name)
		}
		if strings.TrimSpace(q.Statement) == "" {
			return errors.Wrapf(ErrInvalid, "query %q: statement is required", name)
		}
		queries[name] = true
	}

	targets := map[string]bool{}
	for i, t := range d.Targets {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.Wrapf(ErrInvalid, "targets[%d]: name is required", i)
		}
		if targets[name] {
			return errors.Wrapf(ErrInvalid, "target %q defined twice", name)
		}
		if strings.TrimSpace(t.ExternalID) == "" {
			return errors.Wrapf(ErrInvalid, "target %q: external_id is required", name)
		}
		if ref := strings.TrimSpace(t.CredentialRef); ref != "" {
			if _, err := secret.Parse(ref); err != nil {
				return errors.Wrapf(ErrInvalid, "target %q: %v", name, err)
			}
		}
		targets[name] = true
	}

	for i, g := range d.Grants {
		if strings.TrimSpace(g.Principal) == "" {
			return errors.Wrapf(ErrInvalid, "grants[%d]: principal is required", i)
		}
		if (g.Query == "") == (g.Target == "") {
			return errors.Wrapf(ErrInvalid, "grants[%d]: set exactly one of query or target", i)
		}
	}

	return nil
}
