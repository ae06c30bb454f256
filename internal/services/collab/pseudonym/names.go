package pseudonym

var givenNames = []string{
	"Ada", "Bruno", "Chiara", "Dmitri", "Esme",
	"Farid", "Greta", "Hamid", "Ines", "Joaquin",
	"Keiko", "Lars", "Malika", "Nikolai", "Oona",
	"Pablo", "Quinn", "Rania", "Stellan", "Thandiwe",
	"Ulla", "Vikram", "Wanjiru", "Xiadani", "Yusuf",
	"Zofia", "Amos", "Beatriz", "Cyrus", "Dagny",
	"Emeka", "Fiona", "Gustav", "Hoa", "Ilse",
	"Jomo", "Kirra", "Lorenzo", "Mirela", "Nadim",
}

var familyNames = []string{
	"Abara", "Bergmann", "Carvalho", "Dubois", "Eriksen",
	"Ferreira", "Gallo", "Haddad", "Ivanova", "Jansen",
	"Kowalski", "Lindqvist", "Moreau", "Nakashima", "Okafor",
	"Petrov", "Quispe", "Rossi", "Sorensen", "Takahashi",
	"Usman", "Varga", "Wojcik", "Xu", "Yilmaz",
	"Zapata", "Achterberg", "Bianchi", "Costa", "Dahl",
}
