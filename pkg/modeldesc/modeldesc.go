package modeldesc

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"

	"github.com/coupledsim/fmigate/pkg/types"
)

// FileName is the canonical name of the model description inside an FMU
// directory.
const FileName = "modelDescription.xml"

// Well-known vendor annotation names consumed by the front end.
const (
	AnnotationExecutableURI = "executableURI"
	AnnotationEntryPointURI = "entryPointURI"
	AnnotationPreArguments  = "preArguments"
	AnnotationMainArguments = "mainArguments"
	AnnotationPostArguments = "postArguments"
)

// Variable is one declared scalar variable.
type Variable struct {
	Name           string
	ValueReference types.ValueReference
	Causality      types.Causality
	Variability    types.Variability
	Kind           types.ValueKind
	Start          string
	HasStart       bool
}

// StartReal returns the declared start value as a real, zero if absent
// or malformed.
func (v *Variable) StartReal() float64 {
	if !v.HasStart {
		return 0
	}
	f, err := strconv.ParseFloat(v.Start, 64)
	if err != nil {
		return 0
	}
	return f
}

// StartInteger returns the declared start value as an integer.
func (v *Variable) StartInteger() int64 {
	if !v.HasStart {
		return 0
	}
	n, err := strconv.ParseInt(v.Start, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// StartBoolean returns the declared start value as a boolean.
func (v *Variable) StartBoolean() bool {
	return v.HasStart && (v.Start == "true" || v.Start == "1")
}

// StartString returns the declared start value as a string.
func (v *Variable) StartString() string { return v.Start }

// Document is the parsed model description: the fields the adapter core
// consumes, nothing more.
type Document struct {
	FMIVersion  string
	ModelName   string
	GUID        string
	Description string
	Variables   []Variable

	// Worker launch hints (FMI 1.0 tool-coupling implementation block).
	EntryPoint      string
	MIMEType        string
	AdditionalFiles []string

	// Vendor annotations by name.
	Annotations map[string]string
}

// Version maps the fmiVersion attribute to a contract revision.
func (d *Document) Version() types.FMIVersion {
	if d.FMIVersion == "1.0" {
		return types.FMI1CS
	}
	return types.FMI2CS
}

// Counts returns the number of declared variables per value kind, used
// to size the shared record vectors.
func (d *Document) Counts() (nReal, nInteger, nBoolean, nString int) {
	for _, v := range d.Variables {
		switch v.Kind {
		case types.KindReal:
			nReal++
		case types.KindInteger:
			nInteger++
		case types.KindBoolean:
			nBoolean++
		case types.KindString:
			nString++
		}
	}
	return
}

// Variable looks up a declared variable by name.
func (d *Document) Variable(name string) (*Variable, bool) {
	for i := range d.Variables {
		if d.Variables[i].Name == name {
			return &d.Variables[i], true
		}
	}
	return nil, false
}

// Annotation returns a vendor annotation value, empty if absent.
func (d *Document) Annotation(name string) string { return d.Annotations[name] }

func (d *Document) ExecutableURI() string { return d.Annotations[AnnotationExecutableURI] }
func (d *Document) EntryPointURI() string { return d.Annotations[AnnotationEntryPointURI] }
func (d *Document) PreArguments() string  { return d.Annotations[AnnotationPreArguments] }
func (d *Document) MainArguments() string { return d.Annotations[AnnotationMainArguments] }
func (d *Document) PostArguments() string { return d.Annotations[AnnotationPostArguments] }

type xmlTypeTag struct {
	Start *string `xml:"start,attr"`
}

type xmlScalarVariable struct {
	Name           string      `xml:"name,attr"`
	ValueReference uint32      `xml:"valueReference,attr"`
	Causality      string      `xml:"causality,attr"`
	Variability    string      `xml:"variability,attr"`
	Real           *xmlTypeTag `xml:"Real"`
	Integer        *xmlTypeTag `xml:"Integer"`
	Boolean        *xmlTypeTag `xml:"Boolean"`
	String         *xmlTypeTag `xml:"String"`
}

type xmlDocument struct {
	XMLName     xml.Name `xml:"fmiModelDescription"`
	FMIVersion  string   `xml:"fmiVersion,attr"`
	ModelName   string   `xml:"modelName,attr"`
	GUID        string   `xml:"guid,attr"`
	Description string   `xml:"description,attr"`

	ModelVariables struct {
		ScalarVariables []xmlScalarVariable `xml:"ScalarVariable"`
	} `xml:"ModelVariables"`

	Implementation *struct {
		CoSimulationTool *struct {
			Model *struct {
				EntryPoint string `xml:"entryPoint,attr"`
				Type       string `xml:"type,attr"`
				Files      []struct {
					File string `xml:"file,attr"`
				} `xml:"File"`
			} `xml:"Model"`
		} `xml:"CoSimulation_Tool"`
	} `xml:"Implementation"`

	VendorAnnotations *struct {
		Tools []struct {
			Name        string `xml:"name,attr"`
			Annotations struct {
				Annotation []struct {
					Name  string `xml:"name,attr"`
					Value string `xml:"value,attr"`
				} `xml:"Annotation"`
			} `xml:"Annotations"`
		} `xml:"Tool"`
	} `xml:"VendorAnnotations"`
}

// Parse reads and parses a model description file.
func Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modeldesc: read %s: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a model description document.
func ParseBytes(data []byte) (*Document, error) {
	var raw xmlDocument
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("modeldesc: parse: %w", err)
	}
	if raw.GUID == "" {
		return nil, fmt.Errorf("modeldesc: missing guid attribute")
	}

	doc := &Document{
		FMIVersion:  raw.FMIVersion,
		ModelName:   raw.ModelName,
		GUID:        raw.GUID,
		Description: raw.Description,
		Annotations: map[string]string{},
	}

	for _, sv := range raw.ModelVariables.ScalarVariables {
		v := Variable{
			Name:           sv.Name,
			ValueReference: types.ValueReference(sv.ValueReference),
			Causality:      types.ParseCausality(sv.Causality),
			Variability:    types.ParseVariability(sv.Variability),
		}
		var tag *xmlTypeTag
		switch {
		case sv.Real != nil:
			v.Kind, tag = types.KindReal, sv.Real
		case sv.Integer != nil:
			v.Kind, tag = types.KindInteger, sv.Integer
		case sv.Boolean != nil:
			v.Kind, tag = types.KindBoolean, sv.Boolean
		case sv.String != nil:
			v.Kind, tag = types.KindString, sv.String
		default:
			return nil, fmt.Errorf("modeldesc: variable %q has no supported type tag", sv.Name)
		}
		if tag.Start != nil {
			v.Start, v.HasStart = *tag.Start, true
		}
		doc.Variables = append(doc.Variables, v)
	}

	if raw.Implementation != nil && raw.Implementation.CoSimulationTool != nil &&
		raw.Implementation.CoSimulationTool.Model != nil {
		m := raw.Implementation.CoSimulationTool.Model
		doc.EntryPoint = m.EntryPoint
		doc.MIMEType = m.Type
		for _, f := range m.Files {
			doc.AdditionalFiles = append(doc.AdditionalFiles, f.File)
		}
	}

	if raw.VendorAnnotations != nil {
		for _, tool := range raw.VendorAnnotations.Tools {
			for _, a := range tool.Annotations.Annotation {
				doc.Annotations[a.Name] = a.Value
			}
		}
	}

	return doc, nil
}
