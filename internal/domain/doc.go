// Package domain models the Seattle Fire Department real-time 911 dispatch feed.
//
// # Data Source
//
// The feed is an HTML page served by the city at
// http://www2.seattle.gov/fire/realtime911/getRecsForDatePub.asp. It lists the
// day's dispatches newest first, one table row per incident. The markup is not
// well-formed enough for a DOM parser to be worth the trouble, but the row
// layout is fixed, so the page is read line by line.
//
// # Row Layout
//
// A row starts on the line carrying the hover script attribute:
//
//	<tr id=row1 onMouseOver='rowOn(row1)' onMouseOut='rowOff(row1)'>
//
// and is followed by exactly six cell lines, in this order:
//
//	<td class="active">6/27/2020 9:41:33 PM</td>   datetime
//	<td class="active">F200064071</td>             incident id
//	<td class="active">1</td>                      level
//	<td class="active">E25 L5 M31</td>             units
//	<td class="active">5th Ave/Pine St</td>        location
//	<td class="active">Aid Response</td>           type
//
// Each cell value is the text between the first '>' and the following '<' on
// its line. See [ExtractCell] and [ParseIncidents].
//
// # Unit Codes
//
// Units are space-separated codes made of an alphabetic type prefix and a
// numeric suffix: "E25" is Engine 25, "STAF92" is Support Unit 92. Engines,
// ladders, medics (advanced life support) and aid units (basic life support)
// are always named in summaries; other types are named only while the summary
// stays under [MaxUnitsChars]. See [SummarizeUnits].
package domain
