package registrytest

import "testing"

// Corporation numbers loaded by Sample.
const (
	SampleCorp = "BC0000001" // BC company, the main subject
	SampleFirm = "FM0000002" // sole proprietorship doing business as SampleCorp
	SampleXpro = "A0000003"  // extraprovincial company with events only
)

// Sample loads a small registry: one BC company with names, offices, state
// and jurisdiction, one firm registered as its business-as party, and a
// third corporation that only has events.
//
// Events: 50, 150 and 180 for SampleCorp, 160 for SampleFirm, 120 and 210 for
// SampleXpro. Event 150 has a filing effective before the event itself.
func Sample(t testing.TB, s *Source) {
	t.Helper()

	for _, row := range [][]interface{}{
		{"BC", "Y", "BC", "BC Company", "BC Limited Company"},
		{"SP", "Y", "FIRM", "Sole Prop.", "Sole Proprietorship"},
		{"A", "Y", "XPRO", "Extraprov.", "Extraprovincial Company"},
	} {
		s.Insert(t, "corp_type", row...)
	}
	for _, row := range [][]interface{}{
		{"ACT", "ACT", "Active", "Active"},
		{"HIS", "HIS", "Historical", "Historical"},
		{"D1A", "ACT", "Dissolution", "Dissolution 1A"},
		{"HLD", "HIS", "Dissolved", "Historical Dissolved"},
	} {
		s.Insert(t, "corp_op_state", row...)
	}
	s.Insert(t, "jurisdiction_type", "BC", "BC", "British Columbia")
	s.Insert(t, "party_type", "FBO", "Firm Business Owner", "Firm Business Owner")
	s.Insert(t, "office_type", "RG", "Registered", "Registered Office")
	s.Insert(t, "event_type", "FILE", "Filing", "Filing")
	s.Insert(t, "filing_type", "ANNBC", "Annual Report", "BC Annual Report")
	s.Insert(t, "corp_name_type", "CO", "Corporation", "Corporation Name")
	s.Insert(t, "xpro_type", "EXP", "Extraprovincial", "Extraprovincial Registration")

	s.Insert(t, "corporation", SampleCorp, "BC", "2001-03-15 09:00:00", "2018-08-08 00:00:00",
		"123456789", "123456789BC0001", "admin@example.com", nil)
	s.Insert(t, "corporation", SampleFirm, "SP", "2016-01-01 00:00:00", nil, nil, nil, nil, nil)
	s.Insert(t, "corporation", SampleXpro, "A", "1999-01-01 00:00:00", nil, nil, nil, nil, nil)

	for _, row := range [][]interface{}{
		{50, SampleCorp, "CONVICORP", "2001-03-15 09:00:00", nil},
		{120, SampleXpro, "FILE", "2012-01-01 00:00:00", nil},
		{150, SampleCorp, "FILE", "2015-05-05 10:00:00", nil},
		{160, SampleFirm, "FILE", "2016-01-01 00:00:00", nil},
		{180, SampleCorp, "FILE", "2018-08-08 08:00:00", nil},
		{210, SampleXpro, "FILE", "2021-01-01 00:00:00", nil},
	} {
		s.Insert(t, "event", row...)
	}
	s.Insert(t, "filing", 150, "ANNBC", "2015-05-01 00:00:00", nil)
	s.Insert(t, "filing", 160, "FRREG", "2015-12-31 00:00:00", nil)

	s.Insert(t, "corp_state", SampleCorp, 50, nil, "ACT", nil)
	s.Insert(t, "corp_state", SampleFirm, 160, nil, "ACT", nil)

	// corp_num, type, start, end, seq, search name, name, dd corp
	s.Insert(t, "corp_name", SampleCorp, "CO", 10, 50, 0, "OLD NAME", "OLD NAME LTD.", nil)
	s.Insert(t, "corp_name", SampleCorp, "CO", 50, nil, 1, "ACME WIDGETS", "ACME WIDGETS LTD.", nil)
	s.Insert(t, "corp_name", SampleCorp, "AS", 150, nil, 2, "WIDGETCO", "WidgetCo", nil)
	s.Insert(t, "corp_name", SampleFirm, "CO", 160, nil, 1, "ACME TRADING", "ACME TRADING", nil)

	// corp_num, type, start, end, mailing, delivery, dd corp
	s.Insert(t, "office", SampleCorp, "RG", 50, nil, 1001, 1002, nil)
	s.Insert(t, "office", SampleCorp, "HD", 150, nil, 1003, 1003, nil)
	s.Insert(t, "office", SampleCorp, "RC", 50, nil, 1004, 1004, nil)
	s.Insert(t, "office", SampleCorp, "FO", 50, 150, 1001, 1001, nil)

	// addr_id, province, country, postal, line 1-3, city, format, desc, desc short, unit no, unit type, prov name
	s.Insert(t, "address", 1001, "BC", "CA", "V8W 1A1", "100 Main St", nil, nil, "Victoria",
		"FOR", nil, nil, nil, nil, nil)
	s.Insert(t, "address", 1002, "BC", "CA", nil, nil, nil, nil, nil,
		"ADV", "Rural Route 2, Box 14", nil, nil, nil, nil)
	s.Insert(t, "address", 1003, nil, nil, nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil)

	s.Insert(t, "jurisdiction", SampleCorp, 50, nil, "BC", nil, "2001-03-15 00:00:00", nil, nil, nil)
	s.Insert(t, "tilma_involved", 7001, SampleFirm, 160, nil, "Y", "2016-01-01 00:00:00", "AB", nil, nil, nil)

	// corp_party_id, mailing, delivery, corp_num, type, start, end, cessation,
	// last, middle, first, business name, bus company, email, seq, notified, phone, reason
	s.Insert(t, "corp_party", 9001, 1001, 1002, SampleFirm, "FBO", 160, nil, nil,
		nil, nil, nil, "ACME TRADING", SampleCorp, nil, 1, nil, nil, nil)
	s.Insert(t, "corp_party", 9002, 1001, 1001, SampleFirm, "FBO", 150, 160, nil,
		nil, nil, nil, "ACME TRADING", SampleCorp, nil, 0, nil, nil, nil)
	s.Insert(t, "corp_party", 9003, 1003, 1003, SampleCorp, "DIR", 50, nil, nil,
		"Smith", nil, "Jane", nil, nil, nil, 1, nil, nil, nil)
	s.Insert(t, "corp_party", 9004, 1001, 1001, SampleCorp, "FBO", 160, nil, nil,
		nil, nil, nil, "ACME WIDGETS LTD.", SampleFirm, nil, 1, nil, nil, nil)
}
