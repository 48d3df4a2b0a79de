// Package fhirmodels provides the minimal FHIR-shaped wire types the
// NPHIES boundary needs: Claim, CoverageEligibilityRequest, and
// Communication resources built from a claim.Request, plus the
// Patient/Coverage/Provider references they carry. Resource semantics
// beyond what this boundary assembles are out of scope; this is not a
// general FHIR resource library.
package fhirmodels

// Reference is a FHIR Reference element: {reference: "Type/id"}.
type Reference struct {
	Reference string `json:"reference"`
}

// Coding is one coding of a CodeableConcept.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept wraps one or more Codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding"`
}

// Money is a FHIR Money element.
type Money struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Quantity is a FHIR SimpleQuantity element.
type Quantity struct {
	Value float64 `json:"value"`
}

// ClaimItem is one line item inside a Claim resource.
type ClaimItem struct {
	Sequence         int             `json:"sequence"`
	ProductOrService CodeableConcept `json:"productOrService"`
	ServicedDate     string          `json:"servicedDate"`
	Quantity         Quantity        `json:"quantity"`
	UnitPrice        Money           `json:"unitPrice"`
	Net              Money           `json:"net"`
}

// ClaimInsurance references the Coverage used to adjudicate the claim.
type ClaimInsurance struct {
	Sequence int       `json:"sequence"`
	Focal    bool      `json:"focal"`
	Coverage Reference `json:"coverage"`
}

// Claim is the minimal NPHIES-bound Claim resource: status/use/type,
// patient/provider/insurance references, priority, and items.
type Claim struct {
	ResourceType string           `json:"resourceType"`
	Status       string           `json:"status"`
	Use          string           `json:"use"`
	Type         CodeableConcept  `json:"type"`
	Patient      Reference        `json:"patient"`
	Provider     Reference        `json:"provider"`
	Priority     CodeableConcept  `json:"priority"`
	Insurance    []ClaimInsurance `json:"insurance"`
	Item         []ClaimItem      `json:"item"`
}

// CoverageEligibilityRequest is the minimal eligibility-check resource.
type CoverageEligibilityRequest struct {
	ResourceType string          `json:"resourceType"`
	Status       string          `json:"status"`
	Purpose      []string        `json:"purpose"`
	Patient      Reference       `json:"patient"`
	Insurer      Reference       `json:"insurer"`
	Provider     Reference       `json:"provider"`
	Insurance    []ClaimInsurance `json:"insurance"`
	ServicedDate string          `json:"servicedDate,omitempty"`
}

// CommunicationPayload carries either a string or an attachment.
type CommunicationPayload struct {
	ContentString     string `json:"contentString,omitempty"`
	ContentAttachment any    `json:"contentAttachment,omitempty"`
}

// Communication is the minimal claim-attachment Communication resource.
type Communication struct {
	ResourceType string                  `json:"resourceType"`
	Status       string                  `json:"status"`
	Category     []CodeableConcept       `json:"category"`
	About        []Reference             `json:"about"`
	Payload      []CommunicationPayload  `json:"payload"`
}

const (
	priceCurrencySAR = "SAR"
)

// BuildClaimItems converts claim line items into FHIR ClaimItems per the
// net = quantity*unitPrice arithmetic of app/connectors/nphies.py's
// _build_claim_items.
func BuildClaimItems(codes []string, quantities, unitPrices []float64, servicedDate string) []ClaimItem {
	items := make([]ClaimItem, 0, len(codes))
	for i, code := range codes {
		qty := quantities[i]
		price := unitPrices[i]
		items = append(items, ClaimItem{
			Sequence:         i + 1,
			ProductOrService: CodeableConcept{Coding: []Coding{{Code: code}}},
			ServicedDate:     servicedDate,
			Quantity:         Quantity{Value: qty},
			UnitPrice:        Money{Value: price, Currency: priceCurrencySAR},
			Net:              Money{Value: qty * price, Currency: priceCurrencySAR},
		})
	}
	return items
}
